package screenshot

import "strings"

// MaskCSS builds the masking style sheet: sensitive elements are filled
// with a solid color and their descendants hidden, so their rendered
// content never reaches the raster.
func MaskCSS(selectors []string, color string) string {
	if len(selectors) == 0 {
		return ""
	}
	joined := strings.Join(selectors, ", ")

	var sb strings.Builder
	sb.WriteString(joined)
	sb.WriteString(" { background: ")
	sb.WriteString(color)
	sb.WriteString(" !important; color: ")
	sb.WriteString(color)
	sb.WriteString(" !important; border-color: ")
	sb.WriteString(color)
	sb.WriteString(" !important; text-shadow: none !important; }\n")

	for i, sel := range selectors {
		sb.WriteString(sel)
		sb.WriteString(" *")
		if i < len(selectors)-1 {
			sb.WriteString(", ")
		}
	}
	sb.WriteString(" { visibility: hidden !important; }\n")
	return sb.String()
}
