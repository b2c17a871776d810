package notify

import (
	"fmt"
	"text/template"
)

type mailTemplate struct {
	subject string
	body    *template.Template
}

var templateSources = map[string]struct {
	subject string
	body    string
}{
	"auction_won": {
		subject: "Congratulations! You Won the Auction",
		body: `Dear Trader,

Congratulations! You have won the auction for {{.Product.ProductName}} (Lot: {{.AuctionID}}) with a final bid of Rs. {{.FinalBid}}.
{{- with .Product.Quantity}}
Quantity: {{.}}{{end}}
{{- with .Product.ConsignorName}}
Consignor: {{.}}{{end}}

Thank you for participating!

Best regards,
PrimeGavel Team
`,
	},
}

func parseTemplates() (map[string]mailTemplate, error) {
	out := make(map[string]mailTemplate, len(templateSources))
	for name, src := range templateSources {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(src.body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		out[name] = mailTemplate{subject: src.subject, body: tmpl}
	}
	return out, nil
}
