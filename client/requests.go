package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang/glog"
)

// sendRequest registers a correlation entry for the message id, then
// sends. Registration happens first so a response cannot arrive before
// a waiter exists. capacity is the number of envelopes the request
// expects back; single-response requests pass 0. The caller must
// Release the id when done.
func (self *Client) sendRequest(message *Message, capacity int) (<-chan *Message, error) {
	entry, err := self.correlations.Register(message.Id, capacity)
	if err != nil {
		return nil, err
	}
	if err := self.send(message); err != nil {
		self.correlations.Release(message.Id)
		return nil, err
	}
	return entry, nil
}

// await blocks on a correlation entry. A closed entry means the
// connection was lost; an expired timer means the local wait is
// abandoned, not that the remote operation stopped.
func await(ctx context.Context, entry <-chan *Message, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case message, ok := <-entry:
		if !ok {
			return nil, ErrConnectionLost
		}
		return message, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

// TestDomain runs a geographic test for one domain and waits for the
// complete result. When regions is empty the configured defaults are
// used.
func (self *Client) TestDomain(ctx context.Context, domain string, regions ...string) (*GeoTestResult, error) {
	if len(regions) == 0 {
		regions = self.config.Regions
	}
	data, err := marshalData(&GeoTestRequest{
		Domain:  domain,
		Regions: regions,
		Mode:    self.config.TestMode,
	})
	if err != nil {
		return nil, err
	}

	message := &Message{
		Type:   MessageTypeTest,
		Id:     self.idGenerator.NextId(),
		Domain: domain,
		Data:   data,
	}
	entry, err := self.sendRequest(message, 0)
	if err != nil {
		return nil, err
	}
	defer self.correlations.Release(message.Id)

	response, err := await(ctx, entry, self.config.RequestTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "test", Domain: domain}
		}
		return nil, err
	}
	if response.Error != "" {
		return nil, &RemoteError{Op: "test", Message: response.Error}
	}

	var result GeoTestResult
	if err := json.Unmarshal(response.Data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BatchTest tests several domains under one request. Results stream
// back in any number of batch_partial envelopes followed by a final
// batch_result; the call returns once every requested domain has a
// result or the final envelope arrives. An error reply or a timeout
// returns the results received so far alongside the error.
func (self *Client) BatchTest(ctx context.Context, domains []string, regions ...string) ([]*GeoTestResult, error) {
	results := []*GeoTestResult{}
	if len(domains) == 0 {
		return results, nil
	}
	if len(regions) == 0 {
		regions = self.config.Regions
	}

	data, err := marshalData(&BatchTestRequest{
		Domains: domains,
		Regions: regions,
		Mode:    self.config.TestMode,
	})
	if err != nil {
		return nil, err
	}

	message := &Message{
		Type: MessageTypeBatchTest,
		Id:   self.idGenerator.NextId(),
		Data: data,
	}
	// worst case the server sends one partial per domain plus the
	// final batch_result, all before this loop runs once
	entry, err := self.sendRequest(message, len(domains)+1)
	if err != nil {
		return nil, err
	}
	defer self.correlations.Release(message.Id)

	for len(results) < len(domains) {
		response, err := await(ctx, entry, self.config.RequestTimeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return results, &TimeoutError{Op: "batch test", Received: len(results), Expected: len(domains)}
			}
			return results, err
		}
		if response.Error != "" {
			glog.Infof("[%s]batch test error = %s\n", self.tag, response.Error)
			return results, &RemoteError{Op: "batch test", Message: response.Error}
		}

		switch response.Type {
		case MessageTypeBatchResult:
			var final []*GeoTestResult
			if err := json.Unmarshal(response.Data, &final); err != nil {
				return results, err
			}
			return append(results, final...), nil
		case MessageTypeBatchPartial:
			var partial BatchPartial
			if err := json.Unmarshal(response.Data, &partial); err != nil {
				return results, err
			}
			results = append(results, partial.Results...)
		default:
			glog.V(2).Infof("[%s]batch test unexpected %s\n", self.tag, response.Type)
		}
	}
	return results, nil
}

// Subscribe registers callback for updates to domain and asks the
// server to start sending them. The callback is registered locally
// before anything goes on the wire, so an update racing the
// acknowledgment is not lost.
func (self *Client) Subscribe(ctx context.Context, domain string, callback DomainUpdateFunction) error {
	if !self.IsConnected() {
		return ErrNotConnected
	}

	self.subscriptions.Add(domain, callback)

	message := &Message{
		Type:   MessageTypeSubscribe,
		Id:     self.idGenerator.NextId(),
		Domain: domain,
	}
	entry, err := self.sendRequest(message, 0)
	if err != nil {
		return err
	}
	defer self.correlations.Release(message.Id)

	response, err := await(ctx, entry, self.config.AckTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Op: "subscribe", Domain: domain}
		}
		return err
	}
	if response.Error != "" {
		return &RemoteError{Op: "subscribe", Message: response.Error}
	}
	glog.V(1).Infof("[%s]subscribed %s\n", self.tag, domain)
	return nil
}

// Unsubscribe stops updates for domain. The acknowledgment is best
// effort: a timeout is logged, not returned. Local listeners are
// removed unconditionally.
func (self *Client) Unsubscribe(ctx context.Context, domain string) error {
	defer self.subscriptions.RemoveAll(domain)

	if !self.IsConnected() {
		return nil
	}

	message := &Message{
		Type:   MessageTypeUnsubscribe,
		Id:     self.idGenerator.NextId(),
		Domain: domain,
	}
	entry, err := self.sendRequest(message, 0)
	if err != nil {
		return err
	}
	defer self.correlations.Release(message.Id)

	if _, err := await(ctx, entry, self.config.AckTimeout); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			glog.Infof("[%s]unsubscribe timeout %s\n", self.tag, domain)
			return nil
		}
		return err
	}
	glog.V(1).Infof("[%s]unsubscribed %s\n", self.tag, domain)
	return nil
}

// GetRegions returns the regions the server can test from.
func (self *Client) GetRegions(ctx context.Context) ([]string, error) {
	message := &Message{
		Type: MessageTypeGetRegions,
		Id:   self.idGenerator.NextId(),
	}
	entry, err := self.sendRequest(message, 0)
	if err != nil {
		return nil, err
	}
	defer self.correlations.Release(message.Id)

	response, err := await(ctx, entry, self.config.AckTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "get regions"}
		}
		return nil, err
	}
	if response.Error != "" {
		return nil, &RemoteError{Op: "get regions", Message: response.Error}
	}

	var regions []string
	if err := json.Unmarshal(response.Data, &regions); err != nil {
		return nil, err
	}
	return regions, nil
}

// SetConfig updates the server-side session defaults and waits for the
// acknowledgment. The connect-time announcement sends the same
// envelope without an id.
func (self *Client) SetConfig(ctx context.Context, regions []string, mode TestMode) error {
	data, err := marshalData(&ClientConfigUpdate{
		Regions:  regions,
		TestMode: mode,
	})
	if err != nil {
		return err
	}

	message := &Message{
		Type: MessageTypeSetConfig,
		Id:   self.idGenerator.NextId(),
		Data: data,
	}
	entry, err := self.sendRequest(message, 0)
	if err != nil {
		return err
	}
	defer self.correlations.Release(message.Id)

	response, err := await(ctx, entry, self.config.AckTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Op: "set config"}
		}
		return err
	}
	if response.Error != "" {
		return &RemoteError{Op: "set config", Message: response.Error}
	}
	return nil
}

// Ping measures an application-level round trip.
func (self *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	message := &Message{
		Type: MessageTypePing,
		Id:   self.idGenerator.NextId(),
	}
	entry, err := self.sendRequest(message, 0)
	if err != nil {
		return 0, err
	}
	defer self.correlations.Release(message.Id)

	if _, err := await(ctx, entry, self.config.AckTimeout); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, &TimeoutError{Op: "ping"}
		}
		return 0, err
	}
	return time.Since(start), nil
}
