package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestMessageIdsUnique(t *testing.T) {
	generator := newMessageIdGenerator("test")

	seen := map[string]bool{}
	for i := 0; i < 1000; i += 1 {
		id := generator.NextId()
		assert.Equal(t, false, seen[id])
		seen[id] = true
	}
}

func TestMessageIdsUniqueConcurrent(t *testing.T) {
	generator := newMessageIdGenerator("test")
	n := 8
	k := 200

	ids := make([][]string, n)
	wg := sync.WaitGroup{}
	for i := 0; i < n; i += 1 {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < k; j += 1 {
				ids[i] = append(ids[i], generator.NextId())
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, list := range ids {
		for _, id := range list {
			assert.Equal(t, false, seen[id])
			seen[id] = true
		}
	}
	assert.Equal(t, n*k, len(seen))
}

func TestMessageWireFormat(t *testing.T) {
	// a server reply as it appears on the wire
	wire := `{
		"type": "test_result",
		"id": "abc_123",
		"domain": "example.com",
		"action": "test",
		"data": {
			"domain": "example.com",
			"tested_at": "2025-06-01T12:00:00Z",
			"has_geographic_differences": true,
			"is_round_robin": false,
			"confidence": 0.85,
			"region_results": {
				"us-west": {
					"region": "us-west",
					"proxy_used": "proxy-1.us-west",
					"dns_results": [
						{"query_time": "2025-06-01T12:00:00Z", "ip": "192.0.2.10", "ttl": 300, "type": "A"}
					],
					"http_results": [],
					"response_time": 120000000,
					"success": true
				}
			},
			"summary": {
				"unique_ips": ["192.0.2.10"],
				"unique_servers": ["nginx"],
				"response_time_diff": 0,
				"content_variations": {},
				"geographic_spread": false
			}
		},
		"timestamp": "2025-06-01T12:00:01Z"
	}`

	var message Message
	err := json.Unmarshal([]byte(wire), &message)
	assert.Equal(t, nil, err)
	assert.Equal(t, MessageTypeTestResult, message.Type)
	assert.Equal(t, "abc_123", message.Id)
	assert.Equal(t, "test", message.Action)

	var result GeoTestResult
	err = json.Unmarshal(message.Data, &result)
	assert.Equal(t, nil, err)
	assert.Equal(t, "example.com", result.Domain)
	assert.Equal(t, 0.85, result.Confidence)
	region := result.RegionResults["us-west"]
	assert.Equal(t, "proxy-1.us-west", region.ProxyUsed)
	assert.Equal(t, 1, len(region.DNSResults))
	assert.Equal(t, uint32(300), region.DNSResults[0].TTL)
	assert.Equal(t, 120*time.Millisecond, region.ResponseTime)
	assert.Equal(t, []string{"192.0.2.10"}, result.Summary.UniqueIPs)
}

func TestMessageOmitsEmptyFields(t *testing.T) {
	message := &Message{
		Type:      MessageTypeGetRegions,
		Id:        "abc",
		Timestamp: time.Now(),
	}
	wireBytes, err := json.Marshal(message)
	assert.Equal(t, nil, err)

	var fields map[string]any
	err = json.Unmarshal(wireBytes, &fields)
	assert.Equal(t, nil, err)
	_, hasDomain := fields["domain"]
	assert.Equal(t, false, hasDomain)
	_, hasAction := fields["action"]
	assert.Equal(t, false, hasAction)
	_, hasError := fields["error"]
	assert.Equal(t, false, hasError)
	_, hasData := fields["data"]
	assert.Equal(t, false, hasData)
}
