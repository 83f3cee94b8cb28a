// Package telegram is the chat front end: a feed.Sender over the Bot API with
// flood-wait handling, plus the interactive bot that searches titles, pages
// through chapters, manages subscriptions and format preferences, and queues
// manual chapter requests.
package telegram
