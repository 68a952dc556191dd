// Package plc implements the controller link for plclink.
//
// It keeps a single OPC UA connection to a PLC alive, tracks a changing set of
// monitored variables, and fans server-pushed value changes out to any number
// of consumers.
//
// # Architecture
//
//	┌──────────────┐  Subscribe/Write  ┌──────────────┐   Session    ┌─────────┐
//	│   callers    │──────────────────►│   Manager    │◄────────────►│   PLC   │
//	│ (API, MQTT,  │    job queue      │ (1 goroutine)│  OPC UA      └─────────┘
//	│  trigger)    │                   └──────┬───────┘
//	└──────▲───────┘                          │ ChangeEvent
//	       │ observers / callbacks     ┌──────▼───────┐
//	       └───────────────────────────│  Dispatcher  │──► Store
//	                                   └──────────────┘
//
// # Keys
//
// Every variable is identified by a canonical key of the form "ns=<N>;s=<Name>":
//
//	key := plc.NewKey(plc.NamespaceIndex(4), "SinalPython")
//	fmt.Println(key) // "ns=4;s=SinalPython"
//
// The namespace may be supplied as text or as a number; matching against
// server notifications always uses the canonical decimal form.
//
// # Store
//
// Store holds the last known value of every observed variable. A key that was
// never observed is not the same as a key observed as false:
//
//	v, err := store.Get(key)
//	if errors.Is(err, plc.ErrNotSet) {
//	    // never received from the controller
//	}
//
// # Thread Safety
//
// Manager, Store and Registry are safe for concurrent use. Only the manager's
// background goroutine ever calls into the underlying Session.
package plc
