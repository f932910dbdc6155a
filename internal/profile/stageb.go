package profile

import (
	"regexp"
	"strings"

	"github.com/sells-group/profilecore/internal/model"
)

const evidenceCapPerKey = 20

var (
	cnpjDigitsRe      = regexp.MustCompile(`\d{11,14}`)
	companyEntityRe   = []string{"ltda", "s.a", "sa ", "me ", "eireli"}
	phoneDigitsRe     = regexp.MustCompile(`\d(?:[\s().+-]*\d){7,}`)
	productCodeRe     = regexp.MustCompile(`[A-Za-z].*\d|\d.*[A-Za-z]`)
	productUnitRe     = regexp.MustCompile(`(?i)\b\d+\s?(mm|cm|m|kg|g|gb|tb|v|hz|w|l|ml)\b`)
	productKeywordsRe = regexp.MustCompile(`(?i)\b(modelo|codigo|código|sku|ref\.?|reference)\b`)
	serviceStopwords  = map[string]bool{"de": true, "da": true, "do": true, "das": true, "dos": true}
)

var (
	clientKeywords  = []string{"cliente", "clientes", "quem confia", "cases", "nossos clientes"}
	certKeywords    = []string{"certificação", "certificacao", "iso", "anvisa", "inmetro"}
	awardKeywords   = []string{"prêmio", "premio", "premiação", "premiacao", "award"}
	partnerKeywords = []string{"parceria", "parceiro", "partner"}
)

// MergeFactBundles implements spec §4.10 Stage B: a deterministic,
// non-LLM merge of every chunk's FactBundle into one MergedFacts, with a
// capped evidence_map recording (url, quote) provenance per output key.
// Bundles with zero useful facts are ignored entirely.
func MergeFactBundles(bundles []model.FactBundle) model.MergedFacts {
	merged := model.MergedFacts{EvidenceMap: make(map[string][]model.EvidenceRef)}

	var active []model.FactBundle
	for _, b := range bundles {
		if b.UsefulCount > 0 {
			active = append(active, b)
		}
	}
	if len(active) == 0 {
		return merged
	}

	mergeIdentity(active, &merged)
	mergeContact(active, &merged)
	mergeOfferings(active, &merged)
	mergeReputation(active, &merged)

	return merged
}

func mainURL(src model.FactSource) string {
	if len(src.PageSource) == 0 {
		return ""
	}
	return src.PageSource[0]
}

func addEvidence(m map[string][]model.EvidenceRef, key, url, quote string) {
	if len(m[key]) >= evidenceCapPerKey {
		return
	}
	m[key] = append(m[key], model.EvidenceRef{URL: url, Quote: quote})
}

func normalizeGeneric(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

func mergeIdentity(bundles []model.FactBundle, merged *model.MergedFacts) {
	type candidate struct {
		value string
		url   string
	}
	var nameCandidates, descCandidates []candidate

	for _, b := range bundles {
		url := mainURL(b.Source)
		for _, item := range b.Identity {
			norm := normalizeGeneric(item.Value)
			if norm == "" {
				continue
			}
			lower := strings.ToLower(norm)

			switch {
			case strings.Contains(lower, "cnpj") || cnpjDigitsRe.MatchString(lower):
				if merged.Identity.CNPJ == "" {
					merged.Identity.CNPJ = norm
				}
				addEvidence(merged.EvidenceMap, "identity.cnpj", url, item.EvidenceQuote)
			case containsAny(lower, companyEntityRe):
				nameCandidates = append(nameCandidates, candidate{norm, url})
				addEvidence(merged.EvidenceMap, "identity.company_name", url, item.EvidenceQuote)
			case strings.Contains(lower, "fundada") || strings.Contains(lower, "desde"):
				if merged.Identity.FoundingYear == "" {
					merged.Identity.FoundingYear = norm
				}
				addEvidence(merged.EvidenceMap, "identity.founding_year", url, item.EvidenceQuote)
			default:
				descCandidates = append(descCandidates, candidate{norm, url})
				addEvidence(merged.EvidenceMap, "identity.description", url, item.EvidenceQuote)
			}
		}
	}

	if len(nameCandidates) > 0 && merged.Identity.CompanyName == "" {
		merged.Identity.CompanyName = nameCandidates[0].value
	}

	if len(descCandidates) > 0 {
		shortest := descCandidates[0]
		for _, c := range descCandidates[1:] {
			if len(c.value) < len(shortest.value) {
				shortest = c
			}
		}
		merged.Identity.Descriptions = append(merged.Identity.Descriptions, shortest.value)
	}
}

func mergeContact(bundles []model.FactBundle, merged *model.MergedFacts) {
	emailSet := map[string]bool{}
	phoneSet := map[string]bool{}
	urlSet := map[string]bool{}
	locationSet := map[string]bool{}

	for _, b := range bundles {
		url := mainURL(b.Source)
		for _, item := range b.Contact {
			v := normalizeGeneric(item.Value)
			if v == "" {
				continue
			}

			switch {
			case strings.Contains(v, "@"):
				email := normalizeEmail(v)
				if email != "" && !emailSet[email] {
					emailSet[email] = true
					merged.Contact.Emails = append(merged.Contact.Emails, email)
					addEvidence(merged.EvidenceMap, "contact.emails", url, item.EvidenceQuote)
				}
			case phoneDigitsRe.MatchString(v):
				phone := normalizePhone(v)
				if phone != "" && !phoneSet[phone] {
					phoneSet[phone] = true
					merged.Contact.Phones = append(merged.Contact.Phones, phone)
					addEvidence(merged.EvidenceMap, "contact.phones", url, item.EvidenceQuote)
				}
			case strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://"):
				normalized := normalizeURL(v)
				if normalized != "" && !urlSet[normalized] {
					urlSet[normalized] = true
					if merged.Contact.WebsiteURL == "" {
						merged.Contact.WebsiteURL = normalized
					}
					evURL := url
					if evURL == "" {
						evURL = normalized
					}
					addEvidence(merged.EvidenceMap, "contact.website_url", evURL, item.EvidenceQuote)
				}
			default:
				loc := normalizeGeneric(v)
				if len(loc) >= 5 && !locationSet[strings.ToLower(loc)] {
					locationSet[strings.ToLower(loc)] = true
					merged.Contact.Locations = append(merged.Contact.Locations, loc)
					addEvidence(merged.EvidenceMap, "contact.locations", url, item.EvidenceQuote)
				}
			}
		}
	}

	merged.Contact.Emails = capStrings(merged.Contact.Emails, 80)
	merged.Contact.Phones = capStrings(merged.Contact.Phones, 80)
	merged.Contact.Locations = capStrings(merged.Contact.Locations, 80)
}

func mergeOfferings(bundles []model.FactBundle, merged *model.MergedFacts) {
	prodSet := map[string]bool{}
	servSet := map[string]bool{}

	for _, b := range bundles {
		url := mainURL(b.Source)
		for _, item := range b.Offerings {
			v := normalizeGeneric(item.Value)
			if v == "" {
				continue
			}

			if isLikelyProduct(v) {
				key := strings.ToLower(v)
				if !prodSet[key] {
					prodSet[key] = true
					merged.Offerings.Products = append(merged.Offerings.Products, v)
					addEvidence(merged.EvidenceMap, "offerings.products", url, item.EvidenceQuote)
				}
				continue
			}

			normService := normalizeServiceLabel(v)
			if normService == "" {
				continue
			}
			key := strings.ToLower(normService)
			if !servSet[key] {
				servSet[key] = true
				merged.Offerings.Services = append(merged.Offerings.Services, normService)
				addEvidence(merged.EvidenceMap, "offerings.services", url, item.EvidenceQuote)
			}
		}
	}

	merged.Offerings.Products = capStrings(merged.Offerings.Products, 80)
	merged.Offerings.Services = capStrings(merged.Offerings.Services, 80)
}

func mergeReputation(bundles []model.FactBundle, merged *model.MergedFacts) {
	clientSet := map[string]bool{}
	certSet := map[string]bool{}
	awardSet := map[string]bool{}
	partnerSet := map[string]bool{}

	for _, b := range bundles {
		url := mainURL(b.Source)
		for _, item := range b.Reputation {
			quoteLower := strings.ToLower(item.EvidenceQuote)
			v := normalizeGeneric(item.Value)
			if v == "" {
				continue
			}
			key := strings.ToLower(v)

			switch {
			case containsAny(quoteLower, clientKeywords) && !clientSet[key]:
				clientSet[key] = true
				merged.Reputation.ClientList = append(merged.Reputation.ClientList, v)
				addEvidence(merged.EvidenceMap, "reputation.client_list", url, item.EvidenceQuote)
			case containsAny(quoteLower, certKeywords) && !certSet[key]:
				certSet[key] = true
				merged.Reputation.Certifications = append(merged.Reputation.Certifications, v)
				addEvidence(merged.EvidenceMap, "reputation.certifications", url, item.EvidenceQuote)
			case containsAny(quoteLower, awardKeywords) && !awardSet[key]:
				awardSet[key] = true
				merged.Reputation.Awards = append(merged.Reputation.Awards, v)
				addEvidence(merged.EvidenceMap, "reputation.awards", url, item.EvidenceQuote)
			case containsAny(quoteLower, partnerKeywords) && !partnerSet[key]:
				partnerSet[key] = true
				merged.Reputation.Partnerships = append(merged.Reputation.Partnerships, v)
				addEvidence(merged.EvidenceMap, "reputation.partnerships", url, item.EvidenceQuote)
			}
		}
	}

	merged.Reputation.ClientList = capStrings(merged.Reputation.ClientList, 80)
	merged.Reputation.Certifications = capStrings(merged.Reputation.Certifications, 50)
	merged.Reputation.Awards = capStrings(merged.Reputation.Awards, 50)
	merged.Reputation.Partnerships = capStrings(merged.Reputation.Partnerships, 50)
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func capStrings(s []string, max int) []string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func normalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

var nonDigitPlusRe = regexp.MustCompile(`[^\d+]`)

func normalizePhone(v string) string {
	return nonDigitPlusRe.ReplaceAllString(strings.TrimSpace(v), "")
}

var trackingSuffixRe = regexp.MustCompile(`[?#].*$`)

func normalizeURL(v string) string {
	u := strings.TrimSpace(v)
	if u == "" {
		return u
	}
	u = trackingSuffixRe.ReplaceAllString(u, "")
	if strings.HasSuffix(u, "/") && len(u) > len("https://a") {
		u = u[:len(u)-1]
	}
	return u
}

func isLikelyProduct(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	return productCodeRe.MatchString(t) || productUnitRe.MatchString(t) || productKeywordsRe.MatchString(t)
}

func normalizeServiceLabel(value string) string {
	v := strings.ToLower(normalizeGeneric(value))
	fields := strings.Fields(v)
	kept := fields[:0]
	for _, f := range fields {
		if !serviceStopwords[f] {
			kept = append(kept, f)
		}
	}
	v = strings.Join(kept, " ")
	v = strings.ReplaceAll(v, "sistemas", "sistema")
	v = strings.ReplaceAll(v, "serviços", "serviço")
	v = strings.ReplaceAll(v, "servicos", "servico")
	v = strings.ReplaceAll(v, "soluções", "solução")
	v = strings.ReplaceAll(v, "solucoes", "solucao")
	return strings.TrimSpace(v)
}
