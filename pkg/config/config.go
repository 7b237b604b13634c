// Package config loads node profiles from INI files. A profile describes
// everything needed to bring a node up : local node-id, MTU, the CAN
// interface to use and the ports to subscribe to.
//
// Example profile :
//
//	[node]
//	id = 42
//	mtu = 64
//
//	[bus]
//	interface = virtualcan
//	channel = localhost:18888
//
//	[subscription.gps]
//	kind = message
//	port = 7168
//	extent = 64
//	timeout_us = 2000000
package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	canard "github.com/samsamfire/gocanard"
)

const (
	DefaultMTU       = canard.MTUFd
	DefaultTimeoutUs = 2_000_000
)

type SubscriptionProfile struct {
	Name      string
	Kind      canard.TransferKind
	PortID    canard.PortID
	Extent    int
	TimeoutUs uint64
}

type Profile struct {
	NodeID        canard.NodeID
	MTU           int
	BusInterface  string
	BusChannel    string
	Subscriptions []SubscriptionProfile
}

func parseKind(value string) (canard.TransferKind, error) {
	switch strings.ToLower(value) {
	case "", "message":
		return canard.TransferKindMessage, nil
	case "request":
		return canard.TransferKindRequest, nil
	case "response":
		return canard.TransferKindResponse, nil
	}
	return 0, fmt.Errorf("unknown transfer kind : %v", value)
}

// Parse a node profile
// file can be either a path, an *os.File or []byte as supported by ini
func Parse(file any) (*Profile, error) {
	cfg, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile : %w", err)
	}
	profile := &Profile{
		NodeID: canard.NodeIDUnset,
		MTU:    DefaultMTU,
	}

	node := cfg.Section("node")
	if node.HasKey("id") {
		id, err := node.Key("id").Uint()
		if err != nil || id > uint(canard.NodeIDMax) {
			return nil, fmt.Errorf("invalid node id : %v", node.Key("id").String())
		}
		profile.NodeID = canard.NodeID(id)
	}
	if node.HasKey("mtu") {
		mtu, err := node.Key("mtu").Int()
		if err != nil || (mtu != canard.MTUClassic && mtu != canard.MTUFd) {
			return nil, fmt.Errorf("invalid mtu : %v", node.Key("mtu").String())
		}
		profile.MTU = mtu
	}

	bus := cfg.Section("bus")
	profile.BusInterface = bus.Key("interface").String()
	profile.BusChannel = bus.Key("channel").String()

	for _, section := range cfg.Sections() {
		name, found := strings.CutPrefix(section.Name(), "subscription.")
		if !found {
			continue
		}
		kind, err := parseKind(section.Key("kind").String())
		if err != nil {
			return nil, err
		}
		port, err := section.Key("port").Uint()
		if err != nil {
			return nil, fmt.Errorf("invalid port for subscription %v : %w", name, err)
		}
		portMax := canard.SubjectIDMax
		if kind != canard.TransferKindMessage {
			portMax = canard.ServiceIDMax
		}
		if canard.PortID(port) > portMax {
			return nil, fmt.Errorf("port out of range for subscription %v : %v", name, port)
		}
		sub := SubscriptionProfile{
			Name:      name,
			Kind:      kind,
			PortID:    canard.PortID(port),
			Extent:    section.Key("extent").MustInt(0),
			TimeoutUs: section.Key("timeout_us").MustUint64(DefaultTimeoutUs),
		}
		profile.Subscriptions = append(profile.Subscriptions, sub)
	}
	return profile, nil
}
