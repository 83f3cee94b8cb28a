package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/JakeFAU/comicfeed/internal/feed"
)

// Callback payload prefixes.
const (
	actionTitle       = "t"
	actionChapter     = "c"
	actionPage        = "p"
	actionSubscribe   = "s"
	actionUnsubscribe = "u"
	actionFormat      = "o"
)

type callback struct {
	Action string
	Arg    string
	Page   int
}

func encodeCallback(action, arg string) string {
	return action + ":" + arg
}

func encodePage(sessionID string, page int) string {
	return actionPage + ":" + sessionID + ":" + strconv.Itoa(page)
}

func parseCallback(data string) (callback, error) {
	action, rest, ok := strings.Cut(data, ":")
	if !ok || rest == "" {
		return callback{}, fmt.Errorf("malformed callback %q", data)
	}
	cb := callback{Action: action, Arg: rest}
	if action == actionPage {
		id, page, ok := strings.Cut(rest, ":")
		if !ok {
			return callback{}, fmt.Errorf("malformed page callback %q", data)
		}
		n, err := strconv.Atoi(page)
		if err != nil || n < 1 {
			return callback{}, fmt.Errorf("malformed page number in %q", data)
		}
		cb.Arg, cb.Page = id, n
	}
	return cb, nil
}

func searchKeyboard(sessions *Sessions, titles []feed.Title) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(titles))
	for _, title := range titles {
		label := fmt.Sprintf("%s (%s)", title.Name, title.Source)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, encodeCallback(actionTitle, sessions.PutTitle(title))),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func chaptersKeyboard(sessions *Sessions, sessionID string, page pageSession, subscribed bool) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(page.Chapters)+2)
	for _, ch := range page.Chapters {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(ch.Name, encodeCallback(actionChapter, sessions.PutChapter(ch))),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page.Page > 1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("<< Prev", encodePage(sessionID, page.Page-1)))
	}
	if len(page.Chapters) > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Next >>", encodePage(sessionID, page.Page+1)))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	label := "Subscribe"
	if subscribed {
		label = "Unsubscribe"
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(label, encodeCallback(actionSubscribe, sessionID)),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func subscriptionsKeyboard(sessions *Sessions, titles []feed.Title) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(titles))
	for _, title := range titles {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Unsubscribe "+title.Name, encodeCallback(actionUnsubscribe, sessions.PutTitle(title))),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatsKeyboard(enabled feed.Format) tgbotapi.InlineKeyboardMarkup {
	all := []feed.Format{feed.FormatPDF, feed.FormatCBZ, feed.FormatEPUB}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(all))
	for _, f := range all {
		mark := "[ ]"
		if enabled.Has(f) {
			mark = "[x]"
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(mark+" "+f.String(), encodeCallback(actionFormat, f.String())))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
