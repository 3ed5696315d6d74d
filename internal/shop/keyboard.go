package shop

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/model"
)

// Callback data prefixes
const (
	CallbackShopItem   = "shop_item:" // shop_item:ocean
	CallbackShopBuy    = "shop_buy:"  // shop_buy:ocean
	CallbackShopUse    = "shop_use:"  // shop_use:ocean
	CallbackShopCancel = "shop_cancel"
)

// BuildShopPanel creates the shop panel with one button per theme, two per row.
func BuildShopPanel(acc *model.Account) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	items := GetAllItems()
	var rows []tele.Row
	var current []tele.Btn
	for i, item := range items {
		label := fmt.Sprintf("%s %s (%d)", item.Emoji, item.Name, item.Price)
		if Owns(acc, item.Key) {
			label = fmt.Sprintf("%s %s ✓", item.Emoji, item.Name)
		}
		current = append(current, markup.Data(label, CallbackShopItem+string(item.Key)))
		if len(current) == 2 || i == len(items)-1 {
			rows = append(rows, markup.Row(current...))
			current = nil
		}
	}

	markup.Inline(rows...)
	return markup
}

// BuildConfirmPanel offers to buy a theme, or to use it when already owned.
func BuildConfirmPanel(item Item, owned bool) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	action := markup.Data("✅ Buy", CallbackShopBuy+string(item.Key))
	if owned {
		action = markup.Data("🎨 Use", CallbackShopUse+string(item.Key))
	}
	cancel := markup.Data("❌ Back", CallbackShopCancel)

	markup.Inline(markup.Row(action, cancel))
	return markup
}

// FormatShopMessage creates the shop welcome message.
func FormatShopMessage(acc *model.Account) string {
	var sb strings.Builder
	sb.WriteString("🏪 Theme Shop\n")
	sb.WriteString("━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&sb, "💰 Balance: %d\n", acc.Balance)
	fmt.Fprintf(&sb, "🎨 Current theme: %s\n", Selected(acc).Name)
	sb.WriteString("━━━━━━━━━━━━━━━\n")
	sb.WriteString("Tap a theme to preview it.")
	return sb.String()
}

// FormatItemDetail shows a theme's tiles and price.
func FormatItemDetail(item Item, acc *model.Account) string {
	g := item.Glyphs
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", item.Emoji, item.Name)
	sb.WriteString("━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&sb, "Preview: %s %s %s %s\n", g.Hidden, g.Gem, g.Bomb, g.Exploded)
	fmt.Fprintf(&sb, "📝 %s\n", item.Description)
	fmt.Fprintf(&sb, "💰 Price: %d\n", item.Price)
	sb.WriteString("━━━━━━━━━━━━━━━\n")

	switch {
	case Owns(acc, item.Key):
		sb.WriteString("You own this theme.")
	case acc.Balance < item.Price:
		fmt.Fprintf(&sb, "❌ Not enough credits (balance %d).", acc.Balance)
	default:
		fmt.Fprintf(&sb, "Balance: %d. Buy it?", acc.Balance)
	}
	return sb.String()
}
