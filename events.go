//----------------------------------------------------------------------
// This file is part of ledlink.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// ledlink is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// ledlink is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package ledlink

import (
	"context"
	"errors"
	"net"
	"net/netip"
)

// ErrQueueFull is returned when posting to a saturated event loop.
var ErrQueueFull = errors.New("event queue full")

// EventBase is the category of an event.
type EventBase uint8

// Event categories
const (
	WiFiEvent EventBase = iota
	IPEvent
)

func (b EventBase) String() string {
	if b == IPEvent {
		return "IP_EVENT"
	}
	return "WIFI_EVENT"
}

// EventID identifies an event within its category.
type EventID int

// AnyID registers a handler for all events of a category.
const AnyID EventID = -1

// Event identifiers
const (
	APStart EventID = iota
	APStaConnected
	APStaDisconnected
	STAStart
	STAConnected
	STADisconnected
	STAGotIP
)

var eventNames = [...]string{
	"AP_START", "AP_STACONNECTED", "AP_STADISCONNECTED",
	"STA_START", "STA_CONNECTED", "STA_DISCONNECTED", "STA_GOT_IP",
}

func (id EventID) String() string {
	if id >= 0 && int(id) < len(eventNames) {
		return eventNames[id]
	}
	return "ANY"
}

// Event posted by a driver.
type Event struct {
	Base   EventBase
	ID     EventID
	MAC    net.HardwareAddr // AP client (APSta*)
	Addr   netip.Prefix     // acquired address (STAGotIP)
	DNS    netip.Addr       // station DNS server (STAGotIP)
	Reason string           // disconnect reason (STADisconnected)
}

// key of a handler
type eventKey struct {
	base EventBase
	id   EventID
}

// EventLoop dispatches posted events to registered handlers on a single
// task, in posting order.
type EventLoop struct {
	name       string
	handlersMu rwMutex
	handlers   map[eventKey]func(Event)
	queue      chan Event
}

// NewEventLoop creates a loop with a queue for size pending events.
func NewEventLoop(name string, size int) *EventLoop {
	return &EventLoop{
		name:     name,
		handlers: make(map[eventKey]func(Event)),
		queue:    make(chan Event, size),
	}
}

// Name of the loop
func (l *EventLoop) Name() string {
	return l.name
}

// Handle sets the handler for an event. Returns false if a handler is
// already registered for it.
func (l *EventLoop) Handle(base EventBase, id EventID, handler func(Event)) bool {
	if handler == nil {
		panic("handler is nil")
	}
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	key := eventKey{base, id}
	if _, ok := l.handlers[key]; ok {
		return false
	}
	l.handlers[key] = handler
	return true
}

// Unhandle removes the handler for an event.
func (l *EventLoop) Unhandle(base EventBase, id EventID) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	delete(l.handlers, eventKey{base, id})
}

// Post queues an event without blocking.
func (l *EventLoop) Post(ev Event) error {
	select {
	case l.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dispatch an event to the handler for its id, then to the category
// wildcard handler.
func (l *EventLoop) Dispatch(ev Event) {
	l.handlersMu.RLock()
	exact := l.handlers[eventKey{ev.Base, ev.ID}]
	wild := l.handlers[eventKey{ev.Base, AnyID}]
	l.handlersMu.RUnlock()

	if exact != nil {
		exact(ev)
	}
	if wild != nil {
		wild(ev)
	}
}

// Run the dispatch task until ctx is done.
func (l *EventLoop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.queue:
			l.Dispatch(ev)
		}
	}
}
