package environment

import (
	"strconv"
	"strings"
)

// Coordinates is a map position for the environment overview.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// envRotation pins generic env-N ids to widely separated demo locations so
// they render as distinct points.
var envRotation = []Coordinates{
	{Lat: 61.2181, Lng: -149.9003}, // Anchorage
	{Lat: 25.7617, Lng: -80.1918},  // Miami
	{Lat: 21.3069, Lng: -157.8583}, // Honolulu
	{Lat: 44.8113, Lng: -91.4985},  // Eau Claire
	{Lat: 32.7157, Lng: -117.1611}, // San Diego
	{Lat: 42.3601, Lng: -71.0589},  // Boston
}

type regionRule struct {
	match  func(string) bool
	coords Coordinates
}

func containsAny(keys ...string) func(string) bool {
	return func(id string) bool {
		for _, k := range keys {
			if strings.Contains(id, k) {
				return true
			}
		}
		return false
	}
}

// regionRules map region keywords to coordinates. Rules are checked in
// order: the broader us-east/us-west entries must come after their more
// specific -1/-2 variants.
var regionRules = []regionRule{
	{containsAny("us-east-1", "virginia"), Coordinates{Lat: 39.0438, Lng: -77.4878}},  // Ashburn
	{containsAny("us-east", "east"), Coordinates{Lat: 35.2271, Lng: -80.8431}},        // Charlotte
	{containsAny("us-west-2", "oregon"), Coordinates{Lat: 45.5152, Lng: -122.6784}},   // Portland
	{containsAny("us-west", "west"), Coordinates{Lat: 37.4419, Lng: -122.1430}},       // Bay Area
	{func(id string) bool {
		return (strings.Contains(id, "central") && strings.Contains(id, "us")) || strings.Contains(id, "iowa")
	}, Coordinates{Lat: 41.2524, Lng: -95.9980}}, // Iowa
	{containsAny("eu-west-1", "ireland"), Coordinates{Lat: 53.3498, Lng: -6.2603}},    // Dublin
	{containsAny("eu-west-2", "london"), Coordinates{Lat: 51.5074, Lng: -0.1278}},     // London
	{containsAny("eu-central-1", "frankfurt"), Coordinates{Lat: 50.1109, Lng: 8.6821}},
	{containsAny("eu-north-1", "stockholm"), Coordinates{Lat: 59.3293, Lng: 18.0686}},
	{containsAny("eu-west-3", "paris"), Coordinates{Lat: 48.8566, Lng: 2.3522}},
	{containsAny("ap-southeast-1", "singapore"), Coordinates{Lat: 1.3521, Lng: 103.8198}},
	{containsAny("ap-southeast-2", "sydney"), Coordinates{Lat: -33.8688, Lng: 151.2093}},
	{containsAny("ap-northeast-1", "tokyo"), Coordinates{Lat: 35.6762, Lng: 139.6503}},
	{containsAny("ap-northeast-2", "seoul"), Coordinates{Lat: 37.5665, Lng: 126.9780}},
	{containsAny("ap-south-1", "mumbai"), Coordinates{Lat: 19.0760, Lng: 72.8777}},
	{containsAny("ap-east-1", "hongkong", "hong kong"), Coordinates{Lat: 22.3193, Lng: 114.1694}},
	{containsAny("sa-east-1", "saopaulo", "sao paulo"), Coordinates{Lat: -23.5505, Lng: -46.6333}},
	{containsAny("af-south-1", "capetown", "cape town"), Coordinates{Lat: -33.9249, Lng: 18.4241}},
}

// defaultCoordinates places unknown environments in Ashburn.
var defaultCoordinates = Coordinates{Lat: 39.0438, Lng: -77.4878}

// RegionCoordinates maps an environment id to demo coordinates: generic
// env-N ids rotate through fixed locations, anything else matches region
// keywords with Ashburn as the fallback.
func RegionCoordinates(envID string) Coordinates {
	id := strings.ToLower(envID)
	if strings.HasPrefix(id, "env-") {
		n := envNumber(envID)
		idx := ((n-1)%len(envRotation) + len(envRotation)) % len(envRotation)
		return envRotation[idx]
	}
	for _, rule := range regionRules {
		if rule.match(id) {
			return rule.coords
		}
	}
	return defaultCoordinates
}

// envNumber concatenates the digits of an env id; env-007 is 7. Ids with no
// digits count as 1.
func envNumber(envID string) int {
	var digits strings.Builder
	for i := 0; i < len(envID); i++ {
		if envID[i] >= '0' && envID[i] <= '9' {
			digits.WriteByte(envID[i])
		}
	}
	if digits.Len() == 0 {
		return 1
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 1
	}
	return n
}
