// Command chatctl drives the realtime client core from a terminal: it can
// follow a conversation, send messages, print read receipts and listen for
// incoming calls.
package main

func main() {
	Execute()
}
