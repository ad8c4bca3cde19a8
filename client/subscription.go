package client

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// DomainUpdateFunction receives a push notification for a domain.
type DomainUpdateFunction func(domain string, data json.RawMessage)

// subscriptionRegistry tracks which domains have local listeners and
// fans inbound domain_update envelopes out to them. The global
// listener, when set, additionally sees every update regardless of
// domain.
type subscriptionRegistry struct {
	global DomainUpdateFunction

	mutex     sync.Mutex
	listeners map[string][]DomainUpdateFunction
}

func newSubscriptionRegistry(global DomainUpdateFunction) *subscriptionRegistry {
	return &subscriptionRegistry{
		global:    global,
		listeners: map[string][]DomainUpdateFunction{},
	}
}

func (self *subscriptionRegistry) Add(domain string, callback DomainUpdateFunction) {
	if callback == nil {
		return
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.listeners[domain] = append(self.listeners[domain], callback)
}

// RemoveAll drops every listener for domain.
func (self *subscriptionRegistry) RemoveAll(domain string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	delete(self.listeners, domain)
}

func (self *subscriptionRegistry) Domains() []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	domains := maps.Keys(self.listeners)
	slices.Sort(domains)
	return domains
}

// Dispatch invokes the domain's listeners in insertion order, then the
// global listener. The listener slice is snapshotted so a callback may
// subscribe or unsubscribe without deadlocking.
func (self *subscriptionRegistry) Dispatch(domain string, data json.RawMessage) {
	self.mutex.Lock()
	callbacks := slices.Clone(self.listeners[domain])
	self.mutex.Unlock()

	for _, callback := range callbacks {
		self.dispatchOne(domain, data, callback)
	}
	if self.global != nil {
		self.dispatchOne(domain, data, self.global)
	}
}

// a panicking listener loses only its own invocation
func (self *subscriptionRegistry) dispatchOne(domain string, data json.RawMessage, callback DomainUpdateFunction) {
	defer func() {
		if r := recover(); r != nil {
			glog.Infof("[sub]callback panic %s = %v\n", domain, r)
		}
	}()
	callback(domain, data)
}
