package storage

import (
	"fmt"

	"movielinks-tg-bot/internal/tg"
)

const (
	partsPerPage   = 24
	maxSearchItems = 10
)

func closeRow() []tg.InlineKeyboardButton {
	return []tg.InlineKeyboardButton{{Text: "❌ Close", CallbackData: "close"}}
}

func (m *Movie) PartsKeyboard(page int) *tg.InlineKeyboardMarkup {
	if m == nil {
		return nil
	}
	total := m.PartCount()
	totalPages := (total + partsPerPage - 1) / partsPerPage
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page-1)*partsPerPage + 1
	end := start + partsPerPage - 1
	if end > total {
		end = total
	}

	rows := make([][]tg.InlineKeyboardButton, 0, partsPerPage/3+3)
	row := []tg.InlineKeyboardButton{}
	for n := start; n <= end; n++ {
		row = append(row, tg.InlineKeyboardButton{
			Text:         fmt.Sprintf("Part %d", n),
			CallbackData: fmt.Sprintf("part:%s:%d", m.Code, n),
		})
		if len(row) == 3 {
			rows = append(rows, row)
			row = []tg.InlineKeyboardButton{}
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	if totalPages > 1 {
		nav := []tg.InlineKeyboardButton{}
		if page > 1 {
			nav = append(nav, tg.InlineKeyboardButton{Text: "<<<", CallbackData: fmt.Sprintf("partpage:%s:%d", m.Code, page-1)})
		}
		if page < totalPages {
			nav = append(nav, tg.InlineKeyboardButton{Text: ">>>", CallbackData: fmt.Sprintf("partpage:%s:%d", m.Code, page+1)})
		}
		rows = append(rows, nav)
	}

	rows = append(rows, closeRow())
	kb := tg.NewInlineKeyboardMarkup(rows)
	return &kb
}

// QualityKeyboard has one button per quality of part, with the file size
// when known.
func (m *Movie) QualityKeyboard(part int) *tg.InlineKeyboardMarkup {
	if m == nil {
		return nil
	}
	qs, _ := m.QualitiesFor(part)
	rows := make([][]tg.InlineKeyboardButton, 0, len(qs)+1)
	for _, label := range m.QualityLabels(part) {
		text := label
		if size := qs[label].Size; size != "" {
			text = fmt.Sprintf("%s (%s)", label, size)
		}
		rows = append(rows, []tg.InlineKeyboardButton{{
			Text:         text,
			CallbackData: fmt.Sprintf("quality:%s:%d:%s", m.Code, part, label),
		}})
	}
	if m.PartCount() > 1 {
		rows = append(rows, []tg.InlineKeyboardButton{{Text: "⬅️ Parts", CallbackData: fmt.Sprintf("partpage:%s:1", m.Code)}})
	}
	rows = append(rows, closeRow())
	kb := tg.NewInlineKeyboardMarkup(rows)
	return &kb
}

func SearchKeyboard(movies []Movie) *tg.InlineKeyboardMarkup {
	n := len(movies)
	if n > maxSearchItems {
		n = maxSearchItems
	}
	rows := make([][]tg.InlineKeyboardButton, 0, n+1)
	for _, mv := range movies[:n] {
		rows = append(rows, []tg.InlineKeyboardButton{{Text: "🎬 " + mv.Title, CallbackData: "movie:" + mv.Code}})
	}
	rows = append(rows, closeRow())
	kb := tg.NewInlineKeyboardMarkup(rows)
	return &kb
}

func URLKeyboard(text, url string) *tg.InlineKeyboardMarkup {
	kb := tg.NewInlineKeyboardMarkup([][]tg.InlineKeyboardButton{{{Text: text, URL: url}}})
	return &kb
}
