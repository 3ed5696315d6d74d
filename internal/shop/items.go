// Package shop sells board themes. A theme only changes how a Mines board is drawn.
package shop

// ItemKey identifies a theme.
type ItemKey string

// Available themes. Classic is free and owned by everyone.
const (
	ThemeClassic ItemKey = "classic"
	ThemeOcean   ItemKey = "ocean"
	ThemeNeon    ItemKey = "neon"
	ThemeRoyal   ItemKey = "royal"
	ThemeSpace   ItemKey = "space"
)

// Glyphs are the tiles a theme draws with.
type Glyphs struct {
	Hidden   string
	Gem      string
	Bomb     string
	Exploded string
}

// Item holds the configuration for a theme.
type Item struct {
	Key         ItemKey
	Name        string
	Emoji       string
	Price       int64
	Description string
	Glyphs      Glyphs
}

// Free reports whether the item costs nothing.
func (i Item) Free() bool { return i.Price == 0 }

// catalog is ordered by price; GetAllItems keeps that order.
var catalog = []Item{
	{
		Key:         ThemeClassic,
		Name:        "Classic",
		Emoji:       "💎",
		Price:       0,
		Description: "Blue tiles, gems and bombs",
		Glyphs:      Glyphs{Hidden: "🟦", Gem: "💎", Bomb: "💣", Exploded: "💥"},
	},
	{
		Key:         ThemeOcean,
		Name:        "Ocean",
		Emoji:       "🌊",
		Price:       250,
		Description: "Dive for pearls, avoid the sharks",
		Glyphs:      Glyphs{Hidden: "🌊", Gem: "🐚", Bomb: "🦈", Exploded: "🩸"},
	},
	{
		Key:         ThemeNeon,
		Name:        "Neon",
		Emoji:       "💠",
		Price:       500,
		Description: "Dark grid with glowing crystals",
		Glyphs:      Glyphs{Hidden: "⬛", Gem: "💠", Bomb: "☢️", Exploded: "⚡"},
	},
	{
		Key:         ThemeSpace,
		Name:        "Space",
		Emoji:       "🚀",
		Price:       750,
		Description: "Collect stars between the black holes",
		Glyphs:      Glyphs{Hidden: "🌑", Gem: "⭐", Bomb: "🕳️", Exploded: "☄️"},
	},
	{
		Key:         ThemeRoyal,
		Name:        "Royal",
		Emoji:       "👑",
		Price:       1000,
		Description: "Crowns for the brave, skulls for the rest",
		Glyphs:      Glyphs{Hidden: "🟪", Gem: "👑", Bomb: "💀", Exploded: "🔥"},
	},
}

// GetAllItems returns every theme in display order.
func GetAllItems() []Item {
	out := make([]Item, len(catalog))
	copy(out, catalog)
	return out
}

// GetItem looks up a theme by key.
func GetItem(key ItemKey) (Item, bool) {
	for _, it := range catalog {
		if it.Key == key {
			return it, true
		}
	}
	return Item{}, false
}

// Theme returns the glyphs for a selected theme key. Unknown or empty keys
// fall back to Classic so an old snapshot never breaks rendering.
func Theme(key string) Glyphs {
	if it, ok := GetItem(ItemKey(key)); ok {
		return it.Glyphs
	}
	return catalog[0].Glyphs
}
