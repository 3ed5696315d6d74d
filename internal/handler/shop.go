package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"mines-wager-bot/internal/engine"
	"mines-wager-bot/internal/shop"
)

// ShopHandler handles the theme shop.
type ShopHandler struct {
	engine *engine.Engine
	shop   *shop.Service
}

// NewShopHandler creates a new ShopHandler.
func NewShopHandler(eng *engine.Engine, svc *shop.Service) *ShopHandler {
	return &ShopHandler{engine: eng, shop: svc}
}

// HandleShop handles the /shop command.
func (h *ShopHandler) HandleShop(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	acc, err := h.engine.Balance(sender.ID)
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	return c.Reply(shop.FormatShopMessage(acc), shop.BuildShopPanel(acc))
}

// HandleBuy handles the /buy command.
// Format: /buy <theme>
func (h *ShopHandler) HandleBuy(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /buy <theme>\nSee /shop for the list")
	}

	acc, item, err := h.shop.Purchase(context.Background(), sender.ID, themeKey(args[0]))
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	return c.Reply(fmt.Sprintf("✅ Bought %s %s. It is now your board theme.\n💰 Balance: %d", item.Emoji, item.Name, acc.Balance))
}

// HandleTheme handles the /theme command.
// Format: /theme <theme>
func (h *ShopHandler) HandleTheme(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	args := c.Args()
	if len(args) < 1 {
		acc, err := h.engine.Balance(sender.ID)
		if err != nil {
			return c.Reply(errorText(err, time.Now()))
		}
		return c.Reply(fmt.Sprintf("🎨 Current theme: %s\nUsage: /theme <theme>", shop.Selected(acc).Name))
	}

	acc, err := h.shop.Select(context.Background(), sender.ID, themeKey(args[0]))
	if err != nil {
		return c.Reply(errorText(err, time.Now()))
	}
	item := shop.Selected(acc)
	return c.Reply(fmt.Sprintf("🎨 Theme set to %s %s. New games use it.", item.Emoji, item.Name))
}

// HandleCallback handles shop panel buttons. Panels always show the state of
// whoever pressed the button.
func (h *ShopHandler) HandleCallback(c tele.Context) error {
	callback, sender := c.Callback(), c.Sender()
	if callback == nil || sender == nil {
		return nil
	}

	ctx := context.Background()
	data := strings.TrimPrefix(callback.Data, "\f")

	switch {
	case data == shop.CallbackShopCancel:
		acc, err := h.engine.Balance(sender.ID)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: errorText(err, time.Now()), ShowAlert: true})
		}
		return c.Edit(shop.FormatShopMessage(acc), shop.BuildShopPanel(acc))

	case strings.HasPrefix(data, shop.CallbackShopItem):
		item, ok := shop.GetItem(shop.ItemKey(strings.TrimPrefix(data, shop.CallbackShopItem)))
		if !ok {
			return c.Respond(&tele.CallbackResponse{Text: "❌ No such theme"})
		}
		acc, err := h.engine.Balance(sender.ID)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: errorText(err, time.Now()), ShowAlert: true})
		}
		return c.Edit(shop.FormatItemDetail(item, acc), shop.BuildConfirmPanel(item, shop.Owns(acc, item.Key)))

	case strings.HasPrefix(data, shop.CallbackShopBuy):
		acc, item, err := h.shop.Purchase(ctx, sender.ID, shop.ItemKey(strings.TrimPrefix(data, shop.CallbackShopBuy)))
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: errorText(err, time.Now()), ShowAlert: true})
		}
		_ = c.Respond(&tele.CallbackResponse{Text: "✅ Bought " + item.Emoji + " " + item.Name})
		return c.Edit(shop.FormatShopMessage(acc), shop.BuildShopPanel(acc))

	case strings.HasPrefix(data, shop.CallbackShopUse):
		acc, err := h.shop.Select(ctx, sender.ID, shop.ItemKey(strings.TrimPrefix(data, shop.CallbackShopUse)))
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: errorText(err, time.Now()), ShowAlert: true})
		}
		_ = c.Respond(&tele.CallbackResponse{Text: "🎨 Theme set to " + shop.Selected(acc).Name})
		return c.Edit(shop.FormatShopMessage(acc), shop.BuildShopPanel(acc))
	}

	return c.Respond()
}

func themeKey(arg string) shop.ItemKey {
	return shop.ItemKey(strings.ToLower(strings.TrimSpace(arg)))
}
