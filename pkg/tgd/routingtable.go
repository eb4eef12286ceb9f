package tgd

import (
	"time"
)

// Role names returned by the cluster topology query.
const (
	roleRoute = "ROUTE"
	roleRead  = "READ"
	roleWrite = "WRITE"
)

// RoutingTable is one immutable per-database topology snapshot. It is only
// ever replaced whole, never edited in place, so concurrent readers always
// observe a fully-formed table.
type RoutingTable struct {
	Database  string
	Routers   []ServerAddress
	Readers   []ServerAddress
	Writers   []ServerAddress
	ExpiresAt time.Time
}

// IsStale reports whether the table has passed its server-assigned expiry.
func (rt *RoutingTable) IsStale(now time.Time) bool {
	return !now.Before(rt.ExpiresAt)
}

// HasWriters reports whether the table can route writes. A table with an
// empty writer list is still valid for read routing.
func (rt *RoutingTable) HasWriters() bool {
	return len(rt.Writers) > 0
}

// AddressesFor returns the candidate list for the access mode.
func (rt *RoutingTable) AddressesFor(mode AccessMode) []ServerAddress {
	if mode == AccessModeRead {
		return rt.Readers
	}
	return rt.Writers
}

// parseRoutingTable converts one topology procedure record into a table.
// The record carries a "ttl" in seconds and a "servers" list of
// {role, addresses} entries. Anything malformed is a fatal routing error.
func parseRoutingTable(database string, record *Record, now time.Time) (*RoutingTable, error) {
	ttlValue, ok := record.Get("ttl")
	if !ok {
		return nil, &ProtocolError{Message: "malformed routing table response: missing ttl"}
	}

	ttl, err := asInt64(ttlValue)
	if err != nil {
		return nil, &ProtocolError{Message: "malformed routing table response: ttl is not an integer"}
	}

	serversValue, ok := record.Get("servers")
	if !ok {
		return nil, &ProtocolError{Message: "malformed routing table response: missing servers"}
	}

	servers, ok := serversValue.([]interface{})
	if !ok {
		return nil, &ProtocolError{Message: "malformed routing table response: servers is not a list"}
	}

	table := &RoutingTable{
		Database:  database,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Second),
	}

	for _, entry := range servers {
		server, ok := entry.(map[string]interface{})
		if !ok {
			return nil, &ProtocolError{Message: "malformed routing table response: bad server entry"}
		}

		role, _ := server["role"].(string)
		rawAddresses, ok := server["addresses"].([]interface{})
		if !ok {
			return nil, &ProtocolError{Message: "malformed routing table response: bad addresses entry"}
		}

		addresses := make([]ServerAddress, 0, len(rawAddresses))
		for _, raw := range rawAddresses {
			hostPort, ok := raw.(string)
			if !ok {
				return nil, &ProtocolError{Message: "malformed routing table response: address is not a string"}
			}
			address, err := ParseServerAddress(hostPort)
			if err != nil {
				return nil, &ProtocolError{Message: "malformed routing table response: unparseable address " + hostPort}
			}
			addresses = append(addresses, address)
		}

		switch role {
		case roleRoute:
			table.Routers = append(table.Routers, addresses...)
		case roleRead:
			table.Readers = append(table.Readers, addresses...)
		case roleWrite:
			table.Writers = append(table.Writers, addresses...)
		default:
			return nil, &ProtocolError{Message: "malformed routing table response: unknown role " + role}
		}
	}

	if len(table.Routers) == 0 {
		return nil, &ProtocolError{Message: "malformed routing table response: no routers"}
	}

	return table, nil
}

func asInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, &ProtocolError{Message: "not an integer"}
	}
}
