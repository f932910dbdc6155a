package scraper

import (
	"net/url"
	"sort"
	"strings"
)

// highPriorityKeywords and lowPriorityKeywords are the Portuguese-tuned
// link-scoring alphabets of spec §4.5 stage 3. Per DESIGN.md's Open
// Questions resolution, no language-detection step precedes this -- the
// spec notes the alphabet is domain-tuned for Portuguese and leaves
// multilingual support unresolved.
var highPriorityKeywords = []string{
	"quem-somos", "sobre", "institucional", "portfolio", "produto", "servico",
	"solucoes", "catalogo", "produtos", "servicos", "clientes", "cases",
	"projetos", "obras", "certificacoes", "premios", "parceiros", "equipe",
	"lideranca", "contato", "unidades",
}

var lowPriorityKeywords = []string{
	"login", "signin", "cart", "policy", "blog", "news",
	"politica-privacidade", "termos",
}

var paginationMarkers = []string{"page", "p=", "pagina", "nav"}

var assetExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true,
	".css": true, ".js": true, ".json": true, ".xml": true, ".ico": true,
	".woff": true, ".woff2": true, ".ttf": true, ".mp4": true, ".mp3": true,
	".zip": true, ".rar": true, ".xls": true, ".xlsx": true,
}

// scoredLink is an internal link with its heuristic score.
type scoredLink struct {
	url   string
	score int
}

// SelectLinks implements spec §4.5 stage 3: filter non-HTML/asset links,
// score the remainder, drop anything scoring <= -80, and return the top
// maxSubpages by descending score.
func SelectLinks(links []string, maxSubpages int) []string {
	uniq := dedupe(links)

	var scored []scoredLink
	for _, l := range uniq {
		if isAssetURL(l) {
			continue
		}
		s := scoreLink(l)
		if s <= -80 {
			continue
		}
		scored = append(scored, scoredLink{url: l, score: s})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if len(scored) > maxSubpages {
		scored = scored[:maxSubpages]
	}

	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.url
	}
	return out
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func isAssetURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return assetExtensions[path[i:]]
	}
	return false
}

func scoreLink(rawURL string) int {
	lower := strings.ToLower(rawURL)
	score := 0

	isLowPriority := false
	for _, kw := range lowPriorityKeywords {
		if strings.Contains(lower, kw) {
			score -= 100
			isLowPriority = true
		}
	}

	for _, kw := range highPriorityKeywords {
		if strings.Contains(lower, kw) {
			score += 50
		}
	}

	score -= pathDepth(rawURL)

	if !isLowPriority {
		for _, m := range paginationMarkers {
			if strings.Contains(lower, m) {
				score += 30
				break
			}
		}
	}

	return score
}

func pathDepth(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return 0
	}
	return len(strings.Split(path, "/"))
}
