// Package event defines the pub-sub bus and event types that decouple the
// pipeline's components. The orchestrator and session manager publish;
// observers such as the progress view and the log bridge subscribe without
// either side importing the other.
//
// # Usage
//
// Subscribing to a specific event type:
//
//	bus := event.NewBus()
//	id := bus.Subscribe(event.TypeItemStatus, func(e event.Event) {
//		status := e.(event.ItemStatusEvent)
//		fmt.Println(status.ItemID, status.New)
//	})
//	defer bus.Unsubscribe(id)
//
// Publishing:
//
//	bus.Publish(event.NewItemStatusEvent("P1.M1.T1.S1", "subtask", "planned", "researching", ""))
//
// Dispatch is synchronous and in registration order: handlers subscribed to
// the concrete type run first, then wildcard handlers registered via
// SubscribeAll. A panicking handler is recovered and logged so it cannot
// block delivery to the others.
package event
