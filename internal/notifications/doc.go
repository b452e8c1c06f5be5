// Package notifications delivers session events to the user.
//
// The console notifier prints short notices to stderr and rings the terminal
// bell when a hidden message is revealed. When an ntfy topic is configured the
// same events are pushed there as well; otherwise that half degrades to a
// no-op. Flow code depends only on the Service interface.
package notifications
