package compose

import (
	"context"
	"maps"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"rivalbot/internal/rivalry"
)

// MaxLen bounds composed text, in runes.
const MaxLen = 500

type pools map[string][]string

type kindTemplates struct {
	templates []string
	pools     pools
}

var playerTemplates = kindTemplates{
	templates: []string{
		"🐐 {scorer} just scored GOAL #{count}! 🔥⚽\n\n{rival} fans are like '{reaction}' 😂\n\n{comment} ☕⚽\n\n{hashtags}",
		"🚀 {scorer} STRIKES AGAIN! 🚀\n\n{scorer}: {count} goals 📈\n{rival} fans: {excuse} 🤷‍♂️\n\n{comment} 😄⚽\n\n{hashtags}",
		"📈 STONKS! 📈\n\n{scorer} goals: {count} ↗️\n{rival} confidence: {status} ↘️\n\n{suggestion} 🎮😂\n\n{hashtags}",
		"🎪 {scorer} goal #{count}! 🎯\n\n{rival} fans: {gymnastics} 🤸‍♂️\n\n{quote} 😂\n\nLove you really! ❤️⚽\n\n{hashtags}",
	},
	pools: pools{
		"reaction":   {"Wait, football is still happening?", "Is this real life?", "Did someone say football?", "Oh right, there's a game on!"},
		"excuse":     {"Still making excuses", "Blaming the weather", "Questioning the referee", "Checking the offside rule"},
		"comment":    {"Football is beautiful, isn't it?", "The beautiful game continues!", "This is why we love football!", "Poetry in motion!"},
		"status":     {"Declining", "Fading", "Evaporating", "In freefall"},
		"suggestion": {"Don't worry, there's always FIFA!", "At least you have video games!", "YouTube highlights are free!", "There's always next season!"},
		"gymnastics": {"Performing mental gymnastics", "Doing backflips to explain this", "In full denial mode", "Rewriting the rulebook"},
		"quote":      {`"It was offside!" "The grass was too long!"`, `"The ball was too round!"`, `"It's all rigged!"`, `"That doesn't count because..."`},
	},
}

var teamTemplates = kindTemplates{
	templates: []string{
		"🔥 {scorer} just bagged WIN #{count}! 📈\n\nMeanwhile {rival} fans are probably {action} 😅\n\nTime to step up! 💪⚽\n\n{hashtags}",
		"🚨 BREAKING: {scorer} Alert! 🚨\n\n{scorer}: {count} wins ✅\n{rival} fans: {status} ⏰\n\n{encouragement} 😂🏆\n\n{hashtags}",
		"📊 STATS UPDATE 📊\n\n{scorer} wins: {count} 🔥\n{rival} fans' {emotion}: {trend} 📉\n\n{consolation} 💙❤️\n\n{hashtags}",
		"🎯 {scorer} just hit WIN #{count}! 🎉\n\n{rival} fans are probably {reaction} 📱💔\n\n{message} ⚽✨\n\n{hashtags}",
	},
	pools: pools{
		"action":        {"stress-eating", "refreshing the table", "checking if VAR exists", "googling 'how to support a winning team'"},
		"status":        {"Still waiting...", "Still dreaming...", "Still hoping...", "Still believing..."},
		"encouragement": {"Don't worry, there's always next season!", "At least you tried!", "Better luck next time!", "The hope is admirable!"},
		"emotion":       {"hopes", "dreams", "confidence", "expectations"},
		"trend":         {"Declining", "Fading", "Vanishing", "Disappearing"},
		"consolation":   {"But hey, at least you've got passion!", "At least the memes are good!", "The banter makes it worth it!", "You'll always have the memories!"},
		"reaction":      {"googling 'how to delete Twitter'", "checking if this is a simulation", "wondering if they're still dreaming", "looking for the unsubscribe button"},
		"message":       {"Stay strong, rivals! Football is beautiful!", "The banter makes football amazing!", "Rivalry makes the game special!", "This is why we love football!"},
	},
}

var hashtagOptions = []string{
	"#Football #Banter #Rivalry",
	"#BanterFC #Football #Reality",
	"#FootballBanter #Rivalry #Love",
	"#Goals #Football #BanterTime",
}

const derbyHashtags = "#ManchesterDerby #Football #Banter"

// Template fills randomly chosen banter templates. It is the always-available
// fallback and is safe for concurrent use.
type Template struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewTemplate uses rng for every random choice; nil seeds from the clock.
func NewTemplate(rng *rand.Rand) *Template {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Template{rng: rng}
}

func (t *Template) Compose(_ context.Context, req Request) string {
	set := playerTemplates
	if req.Kind == rivalry.Team {
		set = teamTemplates
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tpl := set.templates[t.rng.Intn(len(set.templates))]
	pairs := []string{
		"{scorer}", req.EntityName,
		"{rival}", req.Supports,
		"{count}", strconv.FormatInt(req.Count, 10),
		"{hashtags}", t.pick(hashtags(req)),
	}
	// Sorted so a seeded rng always yields the same text.
	for _, name := range slices.Sorted(maps.Keys(set.pools)) {
		key := "{" + name + "}"
		if strings.Contains(tpl, key) {
			pairs = append(pairs, key, t.pick(set.pools[name]))
		}
	}
	return Truncate(strings.NewReplacer(pairs...).Replace(tpl), MaxLen)
}

func (t *Template) pick(options []string) string {
	return options[t.rng.Intn(len(options))]
}

func hashtags(req Request) []string {
	last := hashtagOptions[0]
	if strings.Contains(req.EntityName, "Manchester") || strings.Contains(req.Supports, "Manchester") {
		last = derbyHashtags
	}
	return append(append([]string(nil), hashtagOptions...), last)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}
