package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/profilecore/internal/model"
)

func TestMergeFactBundles_IgnoresEmptyBundles(t *testing.T) {
	bundles := []model.FactBundle{
		{UsefulCount: 0, Identity: []model.FactItem{{Value: "should be ignored"}}},
	}
	merged := MergeFactBundles(bundles)
	assert.Empty(t, merged.Identity.Descriptions)
}

func TestMergeFactBundles_ClassifiesIdentityContactOfferings(t *testing.T) {
	bundles := []model.FactBundle{
		{
			Source:      model.FactSource{PageSource: []string{"https://acme.com.br/sobre"}},
			UsefulCount: 1,
			Identity: []model.FactItem{
				{Value: "Acme Industria Ltda", EvidenceQuote: "somos a Acme Industria Ltda"},
				{Value: "fundada em 1998", EvidenceQuote: "fundada em 1998"},
			},
			Contact: []model.FactItem{
				{Value: "contato@acme.com.br", EvidenceQuote: "email: contato@acme.com.br"},
				{Value: "(11) 91234-5678", EvidenceQuote: "telefone (11) 91234-5678"},
				{Value: "https://acme.com.br/", EvidenceQuote: "site https://acme.com.br/"},
			},
			Offerings: []model.FactItem{
				{Value: "Motor X100", EvidenceQuote: "o motor X100 e top de linha"},
				{Value: "Servicos de manutencao", EvidenceQuote: "oferecemos servicos de manutencao"},
			},
			Reputation: []model.FactItem{
				{Value: "Certificacao ISO 9001", EvidenceQuote: "possuimos certificacao iso 9001"},
			},
		},
	}

	merged := MergeFactBundles(bundles)

	assert.Equal(t, "Acme Industria Ltda", merged.Identity.CompanyName)
	assert.Equal(t, "fundada em 1998", merged.Identity.FoundingYear)
	assert.Contains(t, merged.Contact.Emails, "contato@acme.com.br")
	assert.NotEmpty(t, merged.Contact.Phones)
	assert.Equal(t, "https://acme.com.br", merged.Contact.WebsiteURL)
	assert.Contains(t, merged.Offerings.Products, "Motor X100")
	assert.NotEmpty(t, merged.Offerings.Services)
	assert.Contains(t, merged.Reputation.Certifications, "Certificacao ISO 9001")
	assert.NotEmpty(t, merged.EvidenceMap["identity.company_name"])
}

func TestMergeFactBundles_DeduplicatesAcrossBundles(t *testing.T) {
	bundles := []model.FactBundle{
		{UsefulCount: 1, Contact: []model.FactItem{{Value: "contato@acme.com.br"}}},
		{UsefulCount: 1, Contact: []model.FactItem{{Value: "CONTATO@acme.com.br"}}},
	}
	merged := MergeFactBundles(bundles)
	assert.Len(t, merged.Contact.Emails, 1)
}
