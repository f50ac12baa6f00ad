// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"
)

// Server is a discovered file server.
type Server struct {
	Name     string
	Address  netip.AddrPort
	LastSeen time.Time
}

func (s Server) String() string {
	return fmt.Sprintf("%s (%v)", s.Name, s.Address)
}

// Manager announces a local file server and tracks other announced servers.
type Manager struct {
	announcement Announcement

	peers map[netip.AddrPort]Server
	mutex sync.Mutex

	stopChan  chan struct{}
	closeOnce sync.Once
}

func newManager(announcement Announcement) *Manager {
	return &Manager{
		announcement: announcement,
		peers:        make(map[netip.AddrPort]Server),
		stopChan:     make(chan struct{}, 1),
	}
}

// NewManager creates and starts a Manager, announcing every interval.
func NewManager(announcement Announcement, interval time.Duration) (*Manager, error) {
	manager := newManager(announcement)

	log.WithFields(log.Fields{
		"interval":     interval,
		"announcement": announcement,
	}).Info("Starting discovery Manager")

	msg, err := MarshalAnnouncements([]Announcement{announcement})
	if err != nil {
		return nil, err
	}

	set := peerdiscovery.Settings{
		Limit:            -1,
		Port:             strconv.Itoa(port),
		MulticastAddress: address4,
		Payload:          msg,
		Delay:            interval,
		TimeLimit:        -1,
		StopChan:         manager.stopChan,
		AllowSelf:        true,
		IPVersion:        peerdiscovery.IPv4,
		Notify:           manager.notify,
	}

	if err := startDiscovery(func() error {
		_, discoverErr := peerdiscovery.Discover(set)
		return discoverErr
	}, time.Second); err != nil {
		return nil, err
	}

	return manager, nil
}

// startDiscovery runs discover in the background and returns its error if it fails within wait.
func startDiscovery(discover func() error, wait time.Duration) error {
	errChan := make(chan error, 1)
	go func() { errChan <- discover() }()

	select {
	case err := <-errChan:
		return err
	case <-time.After(wait):
		return nil
	}
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	servers, err := parseDiscovered(discovered)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Debug("Discovery failed to parse incoming package")
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, server := range servers {
		if _, known := manager.peers[server.Address]; !known {
			log.WithField("server", server).Info("Discovered file server")
		}
		manager.peers[server.Address] = server
	}
}

// Peers returns the announced servers seen within maxAge, including this one, ordered by their address.
func (manager *Manager) Peers(maxAge time.Duration) (servers []Server) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	deadline := time.Now().Add(-maxAge)
	for addr, server := range manager.peers {
		if server.LastSeen.Before(deadline) {
			delete(manager.peers, addr)
			continue
		}
		servers = append(servers, server)
	}

	sortServers(servers)
	return
}

// Close this Manager. It does not block, even if the discovery has already stopped.
func (manager *Manager) Close() {
	manager.closeOnce.Do(func() { manager.stopChan <- struct{}{} })
}

func (manager *Manager) String() string {
	return fmt.Sprintf("discovery.Manager(%v)", manager.announcement)
}

// parseDiscovered converts a multicast package into Servers, addressed by the package's source.
func parseDiscovered(discovered peerdiscovery.Discovered) (servers []Server, err error) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		return nil, err
	}

	addr, err := netip.ParseAddr(discovered.Address)
	if err != nil {
		return nil, err
	}
	addr = addr.Unmap()

	now := time.Now()
	for _, announcement := range announcements {
		servers = append(servers, Server{
			Name:     announcement.Name,
			Address:  netip.AddrPortFrom(addr, announcement.Port),
			LastSeen: now,
		})
	}
	return
}

func sortServers(servers []Server) {
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Address.Addr().Less(servers[j].Address.Addr()) ||
			(servers[i].Address.Addr() == servers[j].Address.Addr() && servers[i].Address.Port() < servers[j].Address.Port())
	})
}

// Discover file servers for the given duration. The query itself carries no Announcement.
func Discover(duration time.Duration) ([]Server, error) {
	query, err := MarshalAnnouncements(nil)
	if err != nil {
		return nil, err
	}

	discovered, err := peerdiscovery.Discover(peerdiscovery.Settings{
		Limit:            -1,
		Port:             strconv.Itoa(port),
		MulticastAddress: address4,
		Payload:          query,
		Delay:            duration / 4,
		TimeLimit:        duration,
		IPVersion:        peerdiscovery.IPv4,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[netip.AddrPort]Server)
	for _, d := range discovered {
		servers, parseErr := parseDiscovered(d)
		if parseErr != nil {
			log.WithError(parseErr).WithField("peer", d.Address).Debug("Discovery failed to parse incoming package")
			continue
		}
		for _, server := range servers {
			seen[server.Address] = server
		}
	}

	servers := make([]Server, 0, len(seen))
	for _, server := range seen {
		servers = append(servers, server)
	}
	sortServers(servers)
	return servers, nil
}
