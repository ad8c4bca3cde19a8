package client

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// One websocket frame carries one Message. The field set mirrors the
// server exactly; a response to a request echoes the request's Id.
type Message struct {
	Type      string          `json:"type"`
	Id        string          `json:"id,omitempty"`
	Domain    string          `json:"domain,omitempty"`
	Action    string          `json:"action,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// outbound message types
const (
	MessageTypeSetConfig   = "set_config"
	MessageTypeTest        = "test"
	MessageTypeBatchTest   = "batch_test"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeGetRegions  = "get_regions"
	MessageTypePing        = "ping"
)

// inbound message types
const (
	MessageTypeWelcome       = "welcome"
	MessageTypeTestResult    = "test_result"
	MessageTypeBatchPartial  = "batch_partial"
	MessageTypeBatchResult   = "batch_result"
	MessageTypeSubscribed    = "subscribed"
	MessageTypeUnsubscribed  = "unsubscribed"
	MessageTypeRegions       = "regions"
	MessageTypeConfigUpdated = "config_updated"
	MessageTypePong          = "pong"
	MessageTypeDomainUpdate  = "domain_update"
	MessageTypeError         = "error"
)

type TestMode string

const (
	TestModeBasic         TestMode = "basic"
	TestModeDetailed      TestMode = "detailed"
	TestModeComprehensive TestMode = "comprehensive"
)

func ParseTestMode(mode string) (TestMode, error) {
	switch TestMode(mode) {
	case TestModeBasic, TestModeDetailed, TestModeComprehensive:
		return TestMode(mode), nil
	}
	return "", fmt.Errorf("unknown test mode: %s", mode)
}

// `server.GeoTestRequest`
type GeoTestRequest struct {
	Domain  string   `json:"domain"`
	Regions []string `json:"regions,omitempty"`
	Mode    TestMode `json:"mode,omitempty"`
}

// `server.BatchTestRequest`
type BatchTestRequest struct {
	Domains []string `json:"domains"`
	Regions []string `json:"regions,omitempty"`
	Mode    TestMode `json:"mode,omitempty"`
}

// payload of `set_config`
type ClientConfigUpdate struct {
	Regions  []string `json:"regions"`
	TestMode TestMode `json:"test_mode"`
}

// payload of `welcome`
type Welcome struct {
	Server   string `json:"server"`
	Version  string `json:"version"`
	ClientId string `json:"client_id"`
}

// `server.GeoTestResult`
type GeoTestResult struct {
	Domain                   string                   `json:"domain"`
	TestedAt                 time.Time                `json:"tested_at"`
	HasGeographicDifferences bool                     `json:"has_geographic_differences"`
	IsRoundRobin             bool                     `json:"is_round_robin"`
	Confidence               float64                  `json:"confidence"`
	RegionResults            map[string]*RegionResult `json:"region_results"`
	Summary                  *TestSummary             `json:"summary"`
}

// `server.RegionResult`
type RegionResult struct {
	Region       string        `json:"region"`
	ProxyUsed    string        `json:"proxy_used"`
	DNSResults   []DNSResult   `json:"dns_results"`
	HTTPResults  []HTTPResult  `json:"http_results"`
	ResponseTime time.Duration `json:"response_time"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
}

// `server.DNSResult`
type DNSResult struct {
	QueryTime time.Time `json:"query_time"`
	IP        string    `json:"ip"`
	TTL       uint32    `json:"ttl"`
	Type      string    `json:"type"`
}

// `server.HTTPResult`
type HTTPResult struct {
	RequestTime  time.Time         `json:"request_time"`
	StatusCode   int               `json:"status_code"`
	ResponseTime time.Duration     `json:"response_time"`
	Headers      map[string]string `json:"headers"`
	ServerHeader string            `json:"server_header"`
	ContentHash  string            `json:"content_hash"`
	ContentSize  int64             `json:"content_size"`
	RemoteAddr   string            `json:"remote_addr"`
}

// `server.TestSummary`
type TestSummary struct {
	UniqueIPs         []string       `json:"unique_ips"`
	UniqueServers     []string       `json:"unique_servers"`
	ResponseTimeDiff  time.Duration  `json:"response_time_diff"`
	ContentVariations map[string]int `json:"content_variations"`
	GeographicSpread  bool           `json:"geographic_spread"`
}

// payload of `batch_partial`
type BatchPartial struct {
	Progress float64          `json:"progress"`
	Results  []*GeoTestResult `json:"results"`
}

func marshalData(value any) (json.RawMessage, error) {
	dataBytes, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(dataBytes), nil
}

// messageIdGenerator produces correlation ids unique within and across
// sessions. The tag is cosmetic and makes log lines attributable; the
// ulid carries the uniqueness.
type messageIdGenerator struct {
	tag     string
	counter atomic.Uint64
}

func newMessageIdGenerator(tag string) *messageIdGenerator {
	return &messageIdGenerator{
		tag: tag,
	}
}

func (self *messageIdGenerator) NextId() string {
	c := self.counter.Add(1)
	return fmt.Sprintf("%s_%s_%d", self.tag, ulid.Make(), c)
}
