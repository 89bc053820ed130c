package agent

import (
	"regexp"
	"sort"
	"strings"

	"github.com/JoNeedsSleep/machiave-llm/game"
	"github.com/JoNeedsSleep/machiave-llm/utils"
)

// ParseTargets extracts power names from a free-text answer. Only
// participants other than the initiator are kept, each once, in the order
// they first appear.
func ParseTargets(response string, initiator game.Power, participants []game.Power) []game.Power {
	names := make([]string, 0, len(game.StandardPowers)+len(participants))
	for _, p := range append(append([]game.Power{}, game.StandardPowers...), participants...) {
		if p != "" {
			names = append(names, regexp.QuoteMeta(string(p)))
		}
	}
	names = utils.Unique(names)
	// longest first so a name never shadows a longer one it prefixes
	sort.SliceStable(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	pattern := regexp.MustCompile(strings.Join(names, "|"))

	targets := []game.Power{}
	for _, match := range pattern.FindAllString(response, -1) {
		p := game.Power(match)
		if p == initiator || !utils.Contains(participants, p) || utils.Contains(targets, p) {
			continue
		}
		targets = append(targets, p)
	}
	return targets
}

// ParseOrders keeps the lines of a response that look like orders.
func ParseOrders(response string) []string {
	return game.FilterOrders(strings.Split(response, "\n"))
}
