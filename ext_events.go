// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

const eventTargetShim = `(function () {
  const listeners = new Map();

  function callable(listener) {
    return typeof listener === 'function' ||
      (listener !== null && typeof listener === 'object' && typeof listener.handleEvent === 'function');
  }

  globalThis.addEventListener = function addEventListener(type, listener) {
    if (listener == null) return;
    if (!callable(listener)) {
      throw new TypeError('addEventListener: listener is not callable');
    }
    type = String(type);
    let list = listeners.get(type);
    if (!list) {
      list = [];
      listeners.set(type, list);
    }
    if (!list.includes(listener)) list.push(listener);
  };

  globalThis.removeEventListener = function removeEventListener(type, listener) {
    const list = listeners.get(String(type));
    if (!list) return;
    const i = list.indexOf(listener);
    if (i >= 0) list.splice(i, 1);
  };

  globalThis.dispatchEvent = function dispatchEvent(event) {
    if (event === null || typeof event !== 'object' || typeof event.type !== 'string') {
      throw new TypeError('dispatchEvent: argument is not an Event');
    }
    const list = listeners.get(event.type);
    if (list) {
      for (const listener of list.slice()) {
        if (typeof listener === 'function') {
          listener.call(globalThis, event);
        } else {
          listener.handleEvent(event);
        }
        if (event.immediatePropagationStopped) break;
      }
    }
    return !event.defaultPrevented;
  };
})();
`

// EventListenerExt installs the global addEventListener, removeEventListener
// and dispatchEvent. Listeners run in registration order.
type EventListenerExt struct{}

// Name returns "event-listener".
func (EventListenerExt) Name() string { return "event-listener" }

func (EventListenerExt) Install(s Scope, _ *RuntimeState) error {
	return installScript(s, "event-target.js", eventTargetShim)
}
