package catalog

import "strings"

// Category names as served by the API (including its spelling of jewelery).
const (
	CategoryMen      = "men's clothing"
	CategoryWomen    = "women's clothing"
	CategoryJewelery = "jewelery"
)

// Section is a storefront grid backed by one category.
type Section struct {
	Slug     string
	TitleKey string
	Category string
	Limit    int
}

var sections = []Section{
	{Slug: "men", TitleKey: "section.men", Category: CategoryMen, Limit: defaultCategoryLimit},
	{Slug: "women", TitleKey: "section.women", Category: CategoryWomen, Limit: defaultCategoryLimit},
	{Slug: "accessories", TitleKey: "section.accessories", Category: CategoryJewelery, Limit: defaultCategoryLimit},
}

// Sections returns the storefront sections in navigation order.
func Sections() []Section {
	out := make([]Section, len(sections))
	copy(out, sections)
	return out
}

// SectionBySlug looks a section up by its URL slug.
func SectionBySlug(slug string) (Section, bool) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, s := range sections {
		if s.Slug == slug {
			return s, true
		}
	}
	return Section{}, false
}
