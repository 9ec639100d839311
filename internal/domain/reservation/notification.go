package reservation

// Notification is a parsed out-of-band availability alert handed to the
// Notification Router by the (external, per spec §1) mailbox poller (spec
// §6 "Platform events (inbound)").
type Notification struct {
	Platform       Platform
	RestaurantName string
	Subject        string
	EmailID        string
}
