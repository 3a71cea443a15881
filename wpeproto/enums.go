package wpeproto

import "fmt"

// StatusCode is the result code carried by purge and configure responses.
type StatusCode int32

const (
	StatusUnspecified StatusCode = 0
	StatusSuccess     StatusCode = 1
	StatusError       StatusCode = 2
)

func (c StatusCode) String() string {
	switch c {
	case StatusUnspecified:
		return "UNSPECIFIED"
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("StatusCode(%d)", int32(c))
	}
}

// Role is the positioning role of a node.
type Role int32

const (
	RoleUnknown  Role = 0
	RoleHeadnode Role = 1
	RoleSubnode  Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleUnknown:
		return "UNKNOWN"
	case RoleHeadnode:
		return "HEADNODE"
	case RoleSubnode:
		return "SUBNODE"
	default:
		return fmt.Sprintf("Role(%d)", int32(r))
	}
}

// Geoid identifies the reference ellipsoid of a Point.
type Geoid int32

const (
	GeoidUnknown Geoid = 0
	GeoidWGS84   Geoid = 1
)

// Domain is the kind of a single measurement.
type Domain int32

const (
	DomainUnknown Domain = 0
	DomainRSS     Domain = 1
	DomainTOA     Domain = 2
	DomainTDOA    Domain = 3
	DomainAOA     Domain = 4
	DomainTWR     Domain = 5
)

var domainNames = map[Domain]string{
	DomainUnknown: "UNKNOWN",
	DomainRSS:     "RSS",
	DomainTOA:     "TOA",
	DomainTDOA:    "TDOA",
	DomainAOA:     "AOA",
	DomainTWR:     "TWR",
}

func (d Domain) String() string {
	if name, ok := domainNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Domain(%d)", int32(d))
}

// ParseDomain returns the Domain with the given symbolic name.
func ParseDomain(name string) (Domain, error) {
	for d, n := range domainNames {
		if n == name {
			return d, nil
		}
	}
	return DomainUnknown, fmt.Errorf("unknown measurement domain %q", name)
}
