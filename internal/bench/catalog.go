package bench

import (
	"fmt"

	"github.com/gputools/gobandwidth/internal/device"
	"github.com/gputools/gobandwidth/internal/transfer"
)

// Catalog returns every scenario in a stable order: the engine-issued set
// first, then the compute-issued mirror.
func Catalog() []Scenario {
	return append(mechanismScenarios("ce"), mechanismScenarios("sm")...)
}

func mechanismScenarios(suffix string) []Scenario {
	issuer := "copy engine"
	mech := func(r *Runner) transfer.Mechanism { return r.engine }
	if suffix == "sm" {
		issuer = "compute kernel"
		mech = func(r *Runner) transfer.Mechanism { return r.compute }
	}

	sc := func(key, desc string, minDevices int, run func(r *Runner, m transfer.Mechanism) error) Scenario {
		return Scenario{
			Key:        key + "_" + suffix,
			Desc:       fmt.Sprintf("%s, %s issued", desc, issuer),
			MinDevices: minDevices,
			Run:        func(r *Runner) error { return run(r, mech(r)) },
		}
	}

	return []Scenario{
		sc("host_to_device_memcpy", "Host to device transfer", 1, (*Runner).hostToDevice),
		sc("device_to_host_memcpy", "Device to host transfer", 1, (*Runner).deviceToHost),
		sc("host_to_device_bidirectional_memcpy", "Simultaneous host to device and device to host transfers", 1,
			func(r *Runner, m transfer.Mechanism) error { return r.hostDeviceBidir(m, true) }),
		sc("device_to_host_bidirectional_memcpy", "Simultaneous device to host and host to device transfers", 1,
			func(r *Runner, m transfer.Mechanism) error { return r.hostDeviceBidir(m, false) }),
		sc("device_to_device_memcpy_read", "Device to device transfer issued by the reading device", 2,
			func(r *Runner, m transfer.Mechanism) error { return r.deviceToDevice(m, true) }),
		sc("device_to_device_memcpy_write", "Device to device transfer issued by the writing device", 2,
			func(r *Runner, m transfer.Mechanism) error { return r.deviceToDevice(m, false) }),
		sc("device_to_device_bidirectional_memcpy_read", "Simultaneous device to device transfers in both directions, read issued", 2,
			func(r *Runner, m transfer.Mechanism) error { return r.deviceToDeviceBidir(m, true) }),
		sc("device_to_device_bidirectional_memcpy_write", "Simultaneous device to device transfers in both directions, write issued", 2,
			func(r *Runner, m transfer.Mechanism) error { return r.deviceToDeviceBidir(m, false) }),
		sc("all_to_host_memcpy", "Simultaneous transfers from every device to the host", 1,
			func(r *Runner, m transfer.Mechanism) error { return r.allWithHost(m, false, false) }),
		sc("all_to_host_bidirectional_memcpy", "Simultaneous transfers between every device and the host, device to host first", 1,
			func(r *Runner, m transfer.Mechanism) error { return r.allWithHost(m, false, true) }),
		sc("host_to_all_memcpy", "Simultaneous transfers from the host to every device", 1,
			func(r *Runner, m transfer.Mechanism) error { return r.allWithHost(m, true, false) }),
		sc("host_to_all_bidirectional_memcpy", "Simultaneous transfers between the host and every device, host to device first", 1,
			func(r *Runner, m transfer.Mechanism) error { return r.allWithHost(m, true, true) }),
		sc("all_to_one_write", "Every device writing to one target device at once", 2,
			func(r *Runner, m transfer.Mechanism) error { return r.allToOne(m, false) }),
		sc("all_to_one_read", "Every device reading from one target device at once", 2,
			func(r *Runner, m transfer.Mechanism) error { return r.allToOne(m, true) }),
		sc("one_to_all_write", "One device writing to every other device at once", 2,
			func(r *Runner, m transfer.Mechanism) error { return r.oneToAll(m, false) }),
		sc("one_to_all_read", "One device reading from every other device at once", 2,
			func(r *Runner, m transfer.Mechanism) error { return r.oneToAll(m, true) }),
	}
}

func (r *Runner) hostToDevice(m transfer.Mechanism) error {
	for _, dev := range r.devs {
		err := r.run(m, transfer.PreferSrcContext, transfer.PerPairBW,
			fmt.Sprintf("Host -> Device %d", dev.ID()),
			func(g *group) error {
				host, err := g.host(dev)
				if err != nil {
					return err
				}
				dst, err := g.device(dev)
				if err != nil {
					return err
				}
				g.pair(host, dst)
				return nil
			})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) deviceToHost(m transfer.Mechanism) error {
	for _, dev := range r.devs {
		err := r.run(m, transfer.PreferSrcContext, transfer.PerPairBW,
			fmt.Sprintf("Device %d -> Host", dev.ID()),
			func(g *group) error {
				src, err := g.device(dev)
				if err != nil {
					return err
				}
				host, err := g.host(dev)
				if err != nil {
					return err
				}
				g.pair(src, host)
				return nil
			})
		if err != nil {
			return err
		}
	}
	return nil
}

// hostDeviceBidir runs both directions at once per device; h2dFirst selects
// which direction is pair 0 and names the scenario.
func (r *Runner) hostDeviceBidir(m transfer.Mechanism, h2dFirst bool) error {
	for _, dev := range r.devs {
		direction := fmt.Sprintf("Host <-> Device %d", dev.ID())
		err := r.run(m, transfer.PreferSrcContext, transfer.SumBW, direction,
			func(g *group) error {
				hostSrc, err := g.host(dev)
				if err != nil {
					return err
				}
				devDst, err := g.device(dev)
				if err != nil {
					return err
				}
				devSrc, err := g.device(dev)
				if err != nil {
					return err
				}
				hostDst, err := g.host(dev)
				if err != nil {
					return err
				}
				if h2dFirst {
					g.pair(hostSrc, devDst)
					g.pair(devSrc, hostDst)
				} else {
					g.pair(devSrc, hostDst)
					g.pair(hostSrc, devDst)
				}
				return nil
			})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) deviceToDevice(m transfer.Mechanism, read bool) error {
	pref := transfer.PreferSrcContext
	if read {
		pref = transfer.PreferDstContext
	}
	for _, local := range r.devs {
		for _, peer := range r.devs {
			if local.ID() == peer.ID() {
				continue
			}
			label := fmt.Sprintf("Device %d -> Device %d", peer.ID(), local.ID())
			if !read {
				label = fmt.Sprintf("Device %d -> Device %d", local.ID(), peer.ID())
			}
			err := r.run(m, pref, transfer.PerPairBW, label,
				func(g *group) error {
					localEp, err := g.device(local)
					if err != nil {
						return err
					}
					peerEp, err := g.device(peer)
					if err != nil {
						return err
					}
					ok, err := localEp.EnablePeerAccess(peerEp)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no peer access between %s and %s: %w",
							localEp.Node(), peerEp.Node(), transfer.ErrUnsupportedTopology)
					}
					if read {
						g.pair(peerEp, localEp)
					} else {
						g.pair(localEp, peerEp)
					}
					return nil
				})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) deviceToDeviceBidir(m transfer.Mechanism, read bool) error {
	pref := transfer.PreferSrcContext
	if read {
		pref = transfer.PreferDstContext
	}
	for i, local := range r.devs {
		for _, peer := range r.devs[i+1:] {
			err := r.run(m, pref, transfer.SumBW,
				fmt.Sprintf("Device %d <-> Device %d", local.ID(), peer.ID()),
				func(g *group) error {
					localSrc, err := g.device(local)
					if err != nil {
						return err
					}
					peerDst, err := g.device(peer)
					if err != nil {
						return err
					}
					peerSrc, err := g.device(peer)
					if err != nil {
						return err
					}
					localDst, err := g.device(local)
					if err != nil {
						return err
					}
					if _, err := localSrc.EnablePeerAccess(peerDst); err != nil {
						return err
					}
					g.pair(localSrc, peerDst)
					g.pair(peerSrc, localDst)
					return nil
				})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// allWithHost covers the host fan-out and fan-in scenarios; toDevices picks
// the host-to-all direction, bidir adds the reverse pairs.
func (r *Runner) allWithHost(m transfer.Mechanism, toDevices, bidir bool) error {
	label := "All -> Host"
	if toDevices {
		label = "Host -> All"
	}
	if bidir {
		label += " (bidirectional)"
	}
	return r.run(m, transfer.PreferSrcContext, transfer.TotalBW, label,
		func(g *group) error {
			addPair := func(dev *device.Device, h2d bool) error {
				host, err := g.host(dev)
				if err != nil {
					return err
				}
				devEp, err := g.device(dev)
				if err != nil {
					return err
				}
				if h2d {
					g.pair(host, devEp)
				} else {
					g.pair(devEp, host)
				}
				return nil
			}
			for _, dev := range r.devs {
				if err := addPair(dev, toDevices); err != nil {
					return err
				}
			}
			if bidir {
				for _, dev := range r.devs {
					if err := addPair(dev, !toDevices); err != nil {
						return err
					}
				}
			}
			return nil
		})
}

func (r *Runner) allToOne(m transfer.Mechanism, read bool) error {
	pref := transfer.PreferSrcContext
	if read {
		pref = transfer.PreferDstContext
	}
	for _, target := range r.devs {
		direction := "All -> Device"
		if read {
			direction = "Device -> All"
		}
		err := r.run(m, pref, transfer.TotalBW,
			fmt.Sprintf("%s %d", direction, target.ID()),
			func(g *group) error {
				for _, other := range r.devs {
					if other.ID() == target.ID() {
						continue
					}
					targetEp, err := g.device(target)
					if err != nil {
						return err
					}
					otherEp, err := g.device(other)
					if err != nil {
						return err
					}
					if _, err := otherEp.EnablePeerAccess(targetEp); err != nil {
						return err
					}
					if read {
						g.pair(targetEp, otherEp)
					} else {
						g.pair(otherEp, targetEp)
					}
				}
				return nil
			})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) oneToAll(m transfer.Mechanism, read bool) error {
	pref := transfer.PreferSrcContext
	if read {
		pref = transfer.PreferDstContext
	}
	for _, origin := range r.devs {
		direction := "Device %d -> All"
		if read {
			direction = "All -> Device %d"
		}
		err := r.run(m, pref, transfer.TotalBW,
			fmt.Sprintf(direction, origin.ID()),
			func(g *group) error {
				for _, other := range r.devs {
					if other.ID() == origin.ID() {
						continue
					}
					originEp, err := g.device(origin)
					if err != nil {
						return err
					}
					otherEp, err := g.device(other)
					if err != nil {
						return err
					}
					if _, err := originEp.EnablePeerAccess(otherEp); err != nil {
						return err
					}
					if read {
						g.pair(otherEp, originEp)
					} else {
						g.pair(originEp, otherEp)
					}
				}
				return nil
			})
		if err != nil {
			return err
		}
	}
	return nil
}
