package services

import "github.com/ebadeco/rainbow-form-app/internal/domain"

const brandingInstruction = "ADDITIONAL INPUT INSTRUCTION: Use the provided second image (Rainbow Form Logo) to apply the branding on the box."

const colorPrompt = `Turn this drawing into real chunky 3D-printed vinyl toys.
Keep every shape, proportion and color choice the child made, exactly as drawn, including wobbly lines and odd details.
Give the toys a smooth matte vinyl finish with soft rounded edges and visible thickness, as if printed and hand painted.
Photograph the toys as a premium product shot: standing in front of a retail gift box, soft studio lighting, shallow depth of field, clean pastel background.
Show the original drawing pinned to the box so buyers can compare it with the toy.
Do not add text other than the branding.`

const whitePrompt = `Turn this drawing into a real chunky 3D-printed vinyl toy.
Keep every shape and proportion the child made, exactly as drawn, including wobbly lines and odd details.
The toy is unpainted: solid matte white vinyl with crisp raised outlines so a child can color it in ("Color Me" edition).
Photograph the toy as a premium product shot: standing in front of a retail gift box with a few markers beside it, soft studio lighting, clean pastel background.
Show the original drawing pinned to the box so buyers can compare it with the toy.
Do not add text other than the branding.`

// Prompt returns the fixed instruction for v. The branding line is appended only when a logo
// image accompanies the request.
func Prompt(v domain.Variant, withBranding bool) string {
	var base string
	switch v {
	case domain.VariantColor:
		base = colorPrompt
	case domain.VariantWhite:
		base = whitePrompt
	default:
		return ""
	}
	if withBranding {
		return base + "\n" + brandingInstruction
	}
	return base
}
