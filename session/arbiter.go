package session

import "scriptroom/domain"

// castTable maps a character of the selected script to its claimant.
type castTable map[string]string

// assign is first-claim-wins: it only succeeds for an unclaimed character
// that belongs to the script's cast.
func (c castTable) assign(script *domain.Script, character, identity string) bool {
	if script == nil || identity == "" || !script.HasCharacter(character) {
		return false
	}
	if _, taken := c[character]; taken {
		return false
	}
	c[character] = identity
	return true
}

// unassign only lets the current claimant release a character.
func (c castTable) unassign(character, identity string) bool {
	claimant, ok := c[character]
	if !ok || claimant != identity {
		return false
	}
	delete(c, character)
	return true
}

// releaseAll drops every claim held by identity and reports whether any was held.
func (c castTable) releaseAll(identity string) bool {
	released := false
	for character, claimant := range c {
		if claimant == identity {
			delete(c, character)
			released = true
		}
	}
	return released
}

func (c castTable) reset() {
	clear(c)
}

// complete reports whether every character of the script has a claimant.
func (c castTable) complete(script *domain.Script) bool {
	if script == nil {
		return false
	}
	for _, character := range script.Characters {
		if _, ok := c[character]; !ok {
			return false
		}
	}
	return true
}

func (c castTable) snapshot() map[string]string {
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
