package services

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/ebadeco/rainbow-form-app/internal/domain"
)

// DefaultStoreDomain hosts the external cart.
const DefaultStoreDomain = "rainbowform.com"

// ProductCredits names the credit pack in cart lookups.
const ProductCredits = "credits"

const missingRenderMessage = "We couldn't render this version. Try again with a clearer drawing."

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the fixed product table behind the storefront.
type Catalog struct {
	Products   []CatalogProduct `yaml:"products"`
	CreditPack CatalogOption    `yaml:"credit_pack"`
}

// CatalogProduct describes one purchasable render.
type CatalogProduct struct {
	Variant            domain.Variant  `yaml:"variant"`
	Title              string          `yaml:"title"`
	Description        string          `yaml:"description"`
	OriginalPriceCents int             `yaml:"original_price_cents"`
	PriceCents         int             `yaml:"price_cents"`
	SelectorLabel      string          `yaml:"selector_label"`
	ButtonLabel        string          `yaml:"button_label"`
	Options            []CatalogOption `yaml:"options"`
}

// CatalogOption maps a selector label to an external cart variant id.
type CatalogOption struct {
	Label     string `yaml:"label"`
	VariantID string `yaml:"variant_id"`
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("catalog: decode: %w", err)
	}
	seen := make(map[domain.Variant]bool, len(catalog.Products))
	for _, product := range catalog.Products {
		if !product.Variant.Valid() {
			return Catalog{}, fmt.Errorf("catalog: unknown variant %q", product.Variant)
		}
		if seen[product.Variant] {
			return Catalog{}, fmt.Errorf("catalog: duplicate variant %q", product.Variant)
		}
		seen[product.Variant] = true
		if len(product.Options) == 0 {
			return Catalog{}, fmt.Errorf("catalog: %s has no options", product.Variant)
		}
		for _, opt := range product.Options {
			if err := validateOption(opt); err != nil {
				return Catalog{}, fmt.Errorf("catalog: %s: %w", product.Variant, err)
			}
		}
	}
	for _, v := range domain.Variants {
		if !seen[v] {
			return Catalog{}, fmt.Errorf("catalog: missing variant %q", v)
		}
	}
	if err := validateOption(catalog.CreditPack); err != nil {
		return Catalog{}, fmt.Errorf("catalog: credit pack: %w", err)
	}
	return catalog, nil
}

func validateOption(opt CatalogOption) error {
	if strings.TrimSpace(opt.Label) == "" {
		return errors.New("option label is required")
	}
	if opt.VariantID == "" {
		return fmt.Errorf("option %q has no variant id", opt.Label)
	}
	for _, r := range opt.VariantID {
		if r < '0' || r > '9' {
			return fmt.Errorf("option %q has a non-numeric variant id", opt.Label)
		}
	}
	return nil
}

// StorefrontView is everything the portal page needs below the upload form.
type StorefrontView struct {
	Email          string
	Credits        int
	InitialCredits int
	OutOfCredits   bool
	CreditPack     OptionView
	HasResult      bool
	Incomplete     bool
	DesignRef      string
	Products       []ProductView
}

// ProductView is one column of the result area.
type ProductView struct {
	Variant       domain.Variant
	Title         string
	Available     bool
	Placeholder   string
	ImageURL      string
	DownloadURL   string
	OriginalPrice string
	Price         string
	Description   template.HTML
	SelectorLabel string
	ButtonLabel   string
	Options       []OptionView
}

// OptionView is a selectable option and its cart deep link.
type OptionView struct {
	Label     string
	VariantID string
	CartURL   string
}

// StorefrontServiceDeps wires dependencies for the storefront presenter. A non-empty Catalog
// replaces the embedded catalog document.
type StorefrontServiceDeps struct {
	Catalog          []byte
	StoreDomain      string
	DesignRefEnabled bool
	InitialCredits   int
}

type storefrontService struct {
	catalog        Catalog
	descriptions   map[domain.Variant]template.HTML
	domain         string
	designRef      bool
	initialCredits int
	printer        *message.Printer
}

// NewStorefrontService parses the catalog and pre-renders product descriptions.
func NewStorefrontService(deps StorefrontServiceDeps) (StorefrontService, error) {
	data := deps.Catalog
	if len(data) == 0 {
		data = defaultCatalog
	}
	catalog, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}
	storeDomain := strings.TrimSpace(deps.StoreDomain)
	if storeDomain == "" {
		storeDomain = DefaultStoreDomain
	}
	if strings.ContainsAny(storeDomain, "/?#@ ") {
		return nil, fmt.Errorf("storefront service: invalid store domain %q", storeDomain)
	}

	md := goldmark.New()
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	descriptions := make(map[domain.Variant]template.HTML, len(catalog.Products))
	for _, product := range catalog.Products {
		var buf bytes.Buffer
		if err := md.Convert([]byte(product.Description), &buf); err != nil {
			return nil, fmt.Errorf("storefront service: render %s description: %w", product.Variant, err)
		}
		descriptions[product.Variant] = template.HTML(policy.SanitizeBytes(buf.Bytes()))
	}

	return &storefrontService{
		catalog:        catalog,
		descriptions:   descriptions,
		domain:         storeDomain,
		designRef:      deps.DesignRefEnabled,
		initialCredits: deps.InitialCredits,
		printer:        message.NewPrinter(language.AmericanEnglish),
	}, nil
}

func (s *storefrontService) Present(state domain.SessionState) StorefrontView {
	view := StorefrontView{
		Email:          state.Email,
		Credits:        state.Credits,
		InitialCredits: s.initialCredits,
		OutOfCredits:   state.Credits <= 0,
		CreditPack: OptionView{
			Label:     s.catalog.CreditPack.Label,
			VariantID: s.catalog.CreditPack.VariantID,
			CartURL:   s.CreditPackURL(state),
		},
		HasResult:  state.Pair != nil,
		Incomplete: state.Pair != nil && state.Pair.Empty(),
		DesignRef:  state.DesignRef,
	}
	if state.Pair == nil {
		return view
	}
	for _, product := range s.catalog.Products {
		artifact := state.Pair.Slot(product.Variant)
		pv := ProductView{
			Variant:       product.Variant,
			Title:         product.Title,
			OriginalPrice: s.formatPrice(product.OriginalPriceCents),
			Price:         s.formatPrice(product.PriceCents),
			Description:   s.descriptions[product.Variant],
			SelectorLabel: product.SelectorLabel,
			ButtonLabel:   product.ButtonLabel,
		}
		if artifact == nil || artifact.Empty() {
			pv.Placeholder = missingRenderMessage
			view.Products = append(view.Products, pv)
			continue
		}
		pv.Available = true
		pv.ImageURL = "/images/" + string(product.Variant)
		pv.DownloadURL = artifact.DownloadURL
		for _, opt := range product.Options {
			pv.Options = append(pv.Options, OptionView{
				Label:     opt.Label,
				VariantID: opt.VariantID,
				CartURL:   s.cartURL(opt.VariantID, state.Email, state.DesignRef, s.designRef),
			})
		}
		view.Products = append(view.Products, pv)
	}
	return view
}

func (s *storefrontService) ResolveCartURL(state domain.SessionState, product, option string) (string, error) {
	if !state.Authenticated() {
		return "", ErrUnauthenticated
	}
	if product == ProductCredits {
		return s.CreditPackURL(state), nil
	}
	variant := domain.Variant(product)
	if !variant.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, product)
	}
	if slot := state.Pair.Slot(variant); slot == nil || slot.Empty() {
		return "", fmt.Errorf("%w: %s has no render", ErrUnknownVariant, product)
	}
	for _, p := range s.catalog.Products {
		if p.Variant != variant {
			continue
		}
		for _, opt := range p.Options {
			if opt.Label == option {
				return s.cartURL(opt.VariantID, state.Email, state.DesignRef, s.designRef), nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s option %q", ErrUnknownVariant, product, option)
}

func (s *storefrontService) CreditPackURL(state domain.SessionState) string {
	return s.cartURL(s.catalog.CreditPack.VariantID, state.Email, "", false)
}

// cartURL keeps the literal bracketed parameter names the cart expects.
func (s *storefrontService) cartURL(variantID, email, designRef string, withRef bool) string {
	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(s.domain)
	b.WriteString("/cart/")
	b.WriteString(variantID)
	b.WriteString(":1?checkout[email]=")
	b.WriteString(url.QueryEscape(email))
	if withRef && designRef != "" {
		b.WriteString("&attributes[Design_Ref]=")
		b.WriteString(url.QueryEscape(designRef))
	}
	return b.String()
}

func (s *storefrontService) formatPrice(cents int) string {
	return s.printer.Sprintf("$%.2f", float64(cents)/100)
}
