package ap

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
)

// MatchPOLine links the invoice line at position index to a PO line. The PO line at the same
// position wins; otherwise the first PO line whose trimmed item name equals itemName ignoring
// case is used. Lowercasing is per rune, so "ß" and "ss" stay distinct.
func MatchPOLine(index int, itemName string, lines []procurement.POLine) (procurement.POLine, bool) {
	if index >= 0 && index < len(lines) {
		return lines[index], true
	}
	lower := cases.Lower(language.Und)
	want := lower.String(strings.TrimSpace(itemName))
	if want == "" {
		return procurement.POLine{}, false
	}
	for _, line := range lines {
		if lower.String(strings.TrimSpace(line.ItemName)) == want {
			return line, true
		}
	}
	return procurement.POLine{}, false
}
