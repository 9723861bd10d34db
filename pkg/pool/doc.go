// Package pool implements the device-pool manager.
//
// The Manager discovers devices through the debug bridge, qualifies each
// with a shell responsiveness probe, and maintains an allocation pool with
// mutually exclusive leases. Devices move between three disjoint homes: the
// available queue, the allocated map, and the checking set (an in-flight
// responsiveness probe that gates re-admission). Background loops observe
// bridge events and poll fastboot-mode devices.
//
// # Basic Usage
//
//	runner := command.NewRunner()
//	mgr := pool.NewManager(pool.DefaultOptions(), runner,
//	    bridge.NewAdbBridge(runner, nil))
//	if err := mgr.Init(nil); err != nil {
//	    return err
//	}
//	defer mgr.Terminate()
//
//	d, err := mgr.AllocateMatching(5*time.Second, nil)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Free(d, pool.FreeAvailable)
package pool
