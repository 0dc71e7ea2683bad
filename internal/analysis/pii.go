package analysis

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/KaramelBytes/tabsense-cli/internal/models"
)

var (
	emailRe   = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	urlRe     = regexp.MustCompile(`^(?i)https?://\S+$`)
	uuidRe    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	codeRe    = regexp.MustCompile(`^[A-Z]{1,5}[-_]?\d{2,}$`)
	ssnRe     = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)
	phoneRe   = regexp.MustCompile(`^\+?[\d\s().\-]{7,20}$`)
	personRe  = regexp.MustCompile(`^\p{Lu}\p{Ll}+(?:[ '\-]\p{Lu}\p{Ll}+){1,2}$`)
	addressRe = regexp.MustCompile(`(?i)^\d+\s+[\w .'\-]+\b(st|street|ave|avenue|rd|road|blvd|boulevard|ln|lane|dr|drive|way|ct|court|pl|place)\b`)
	healthRe  = regexp.MustCompile(`(?i)(diagnos|patient|medical|mrn|icd|prescri|treatment|symptom)`)
)

// nameHints maps column-name fragments to the PII type they suggest.
var nameHints = []struct {
	fragment string
	kind     models.PIIType
}{
	{"email", models.PIIEmail},
	{"e-mail", models.PIIEmail},
	{"phone", models.PIIPhone},
	{"mobile", models.PIIPhone},
	{"tel", models.PIIPhone},
	{"ssn", models.PIISSN},
	{"social_security", models.PIISSN},
	{"card", models.PIICreditCard},
	{"credit", models.PIICreditCard},
	{"ip_address", models.PIIIPAddress},
	{"ip", models.PIIIPAddress},
	{"first_name", models.PIIName},
	{"last_name", models.PIIName},
	{"full_name", models.PIIName},
	{"customer_name", models.PIIName},
	{"contact_name", models.PIIName},
	{"name", models.PIIName},
	{"address", models.PIIAddress},
	{"street", models.PIIAddress},
}

var piiMatchers = map[models.PIIType]func(string) bool{
	models.PIIEmail:      func(s string) bool { return emailRe.MatchString(s) },
	models.PIIPhone:      isPhone,
	models.PIISSN:        func(s string) bool { return ssnRe.MatchString(s) },
	models.PIICreditCard: isCardNumber,
	models.PIIIPAddress:  isIP,
	models.PIIName:       func(s string) bool { return personRe.MatchString(s) },
	models.PIIAddress:    func(s string) bool { return addressRe.MatchString(s) },
}

// piiOrder breaks confidence ties toward the more specific type.
var piiOrder = []models.PIIType{
	models.PIISSN, models.PIICreditCard, models.PIIEmail, models.PIIIPAddress,
	models.PIIPhone, models.PIIAddress, models.PIIName,
}

const piiMinConfidence = 0.3

// numericPII lists the types whose values can be plain digit strings and so
// land in numeric columns.
var numericPII = map[models.PIIType]bool{
	models.PIISSN:        true,
	models.PIICreditCard: true,
	models.PIIPhone:      true,
}

// matchPII reports whether v looks like t. Under a matching column-name hint,
// bare digit strings also count: 9 digits for an SSN, 10 to 15 for a phone.
func matchPII(t models.PIIType, v string, hinted bool) bool {
	if piiMatchers[t](v) {
		return true
	}
	if !hinted {
		return false
	}
	n, ok := bareDigits(v)
	if !ok {
		return false
	}
	switch t {
	case models.PIISSN:
		return n == 9
	case models.PIIPhone:
		return n >= 10 && n <= 15
	}
	return false
}

// bareDigits counts the digits of an optionally +-prefixed digit string.
func bareDigits(v string) (int, bool) {
	s := strings.TrimPrefix(v, "+")
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	return len(s), true
}

func isPhone(s string) bool {
	if !phoneRe.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	// plain numbers and dates are not phone numbers
	return digits >= 7 && digits <= 15 && strings.ContainsAny(s, " -().+")
}

func isIP(s string) bool {
	if !strings.ContainsAny(s, ".:") {
		return false
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

func isCardNumber(s string) bool {
	var digits []int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return len(digits) >= 13 && len(digits) <= 19 && luhn(digits)
}

func luhn(digits []int) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func hintFor(name string) (models.PIIType, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	for _, h := range nameHints {
		switch {
		case h.fragment == "name":
			if n == "name" {
				return h.kind, true
			}
		case h.fragment == "ip" || h.fragment == "tel":
			// short fragments must be whole words
			for _, part := range strings.Split(n, "_") {
				if part == h.fragment {
					return h.kind, true
				}
			}
		case strings.Contains(n, h.fragment):
			return h.kind, true
		}
	}
	return "", false
}

// detectPII scores each column against every PII type. Confidence is the
// share of matching values (weighted 0.8) plus 0.2 for a suggestive column
// name; a name hint alone counts 0.5 for names and addresses, whose values
// are too varied to match reliably.
func detectPII(cols []*column) models.SecurityReport {
	rep := models.SecurityReport{RiskLevel: models.SeverityLow}
	health := false
	for _, c := range cols {
		if healthRe.MatchString(c.profile.Name) {
			health = true
		}
		switch c.profile.Type {
		case models.ColumnBoolean, models.ColumnDateTime:
			continue
		}
		if f, ok := scoreColumn(c); ok {
			rep.PIIColumns = append(rep.PIIColumns, f)
		}
	}
	types := map[models.PIIType]bool{}
	for _, f := range rep.PIIColumns {
		types[f.Type] = true
	}
	switch {
	case len(types) == 0:
		rep.RiskLevel = models.SeverityLow
	case types[models.PIISSN] || types[models.PIICreditCard]:
		rep.RiskLevel = models.SeverityCritical
	case len(types) >= 3 || (health && len(types) > 0):
		rep.RiskLevel = models.SeverityHigh
	default:
		rep.RiskLevel = models.SeverityMedium
	}
	if len(types) > 0 {
		rep.Compliance.GDPR = true
		rep.Compliance.CCPA = true
		rep.Compliance.HIPAA = health
		rep.Compliance.PCIDSS = types[models.PIICreditCard]
	}
	rep.Recommendations = securityRecommendations(rep, types)
	return rep
}

func scoreColumn(c *column) (models.PIIFinding, bool) {
	hint, hinted := hintFor(c.profile.Name)
	var values []string
	for _, v := range c.raw {
		if v != "" {
			values = append(values, v)
		}
	}
	numeric := c.profile.Type == models.ColumnNumeric
	best := models.PIIFinding{Column: c.profile.Name}
	for _, t := range piiOrder {
		if numeric && !numericPII[t] {
			continue
		}
		if t == models.PIIName && hint != t {
			// capitalized word pairs are too common to count without a name hint
			continue
		}
		matches := 0
		for _, v := range values {
			if matchPII(t, v, hinted && hint == t) {
				matches++
			}
		}
		conf := 0.0
		if len(values) > 0 {
			conf = 0.8 * float64(matches) / float64(len(values))
		}
		if hinted && hint == t {
			if matches == 0 && (t == models.PIIName || t == models.PIIAddress) {
				conf = 0.5
			} else {
				conf += 0.2
			}
		}
		if conf > best.Confidence {
			best.Type, best.Confidence, best.MatchCount = t, conf, matches
		}
	}
	if best.Confidence < piiMinConfidence {
		return models.PIIFinding{}, false
	}
	best.Confidence = round3(best.Confidence)
	for _, v := range values {
		if len(best.RedactedSamples) == 3 {
			break
		}
		if best.MatchCount == 0 || matchPII(best.Type, v, hinted && hint == best.Type) {
			best.RedactedSamples = append(best.RedactedSamples, redact(best.Type, v))
		}
	}
	return best, true
}

func securityRecommendations(rep models.SecurityReport, types map[models.PIIType]bool) []string {
	if len(rep.PIIColumns) == 0 {
		return nil
	}
	var out []string
	cols := make([]string, len(rep.PIIColumns))
	for i, f := range rep.PIIColumns {
		cols[i] = f.Column
	}
	out = append(out, fmt.Sprintf("Mask or pseudonymize personal data in: %s", strings.Join(cols, ", ")))
	if types[models.PIICreditCard] {
		out = append(out, "Card numbers fall under PCI-DSS; tokenize them before sharing the dataset")
	}
	if types[models.PIISSN] {
		out = append(out, "Remove social security numbers unless strictly required")
	}
	if rep.Compliance.HIPAA {
		out = append(out, "Health-related columns were found next to identifiers; treat the dataset as PHI")
	}
	out = append(out, "Restrict access to the raw upload and apply a retention period")
	return out
}

// redact masks a value so that only its shape survives.
func redact(t models.PIIType, v string) string {
	switch t {
	case models.PIIEmail:
		at := strings.LastIndex(v, "@")
		if at <= 0 {
			return "***"
		}
		return v[:1] + "***" + v[at:]
	case models.PIISSN:
		return "***-**-" + lastDigits(v, 4)
	case models.PIICreditCard:
		return "**** **** **** " + lastDigits(v, 4)
	case models.PIIPhone:
		return "***-***-" + lastDigits(v, 2)
	case models.PIIIPAddress:
		if i := strings.IndexAny(v, ".:"); i > 0 {
			return v[:i] + v[i:i+1] + "***"
		}
		return "***"
	case models.PIIName:
		var initials []string
		for _, w := range strings.Fields(v) {
			initials = append(initials, string([]rune(w)[0])+".")
		}
		return strings.Join(initials, " ")
	}
	return "[redacted]"
}

func lastDigits(v string, n int) string {
	var ds []rune
	for _, r := range v {
		if r >= '0' && r <= '9' {
			ds = append(ds, r)
		}
	}
	if len(ds) <= n {
		return strings.Repeat("*", n)
	}
	return string(ds[len(ds)-n:])
}

// redactPII rewrites every surfaced value of flagged columns: samples,
// normalized cells and the value lists inside statistics. Flagged numeric
// columns become text identifiers so no numeric summary exposes their values.
func redactPII(cols []*column, rep models.SecurityReport) {
	flagged := map[string]models.PIIType{}
	for _, f := range rep.PIIColumns {
		flagged[f.Column] = f.Type
	}
	for _, c := range cols {
		t, ok := flagged[c.profile.Name]
		if !ok {
			continue
		}
		if c.profile.Type == models.ColumnNumeric {
			c.asIdentifier()
		}
		for i, v := range c.norm {
			if v != "" {
				c.norm[i] = redact(t, v)
			}
		}
		for i, v := range c.profile.SampleValues {
			c.profile.SampleValues[i] = redact(t, v)
		}
		if c.profile.Type == models.ColumnText {
			var masked []string
			for _, v := range c.norm {
				if v != "" {
					masked = append(masked, v)
				}
			}
			c.profile.Statistics = textStats(masked)
		}
		switch st := c.profile.Statistics.(type) {
		case *models.CategoricalStats:
			for i := range st.TopValues {
				st.TopValues[i].Value = redact(t, st.TopValues[i].Value)
			}
			dist := make(map[string]float64, len(st.Distribution))
			for k, p := range st.Distribution {
				dist[redact(t, k)] += p
			}
			st.Distribution = dist
			st.ModeValue = redact(t, st.ModeValue)
		case *models.TextStats:
			st.CommonTokens = nil
		}
		c.profile.QualityFlags = append(c.profile.QualityFlags, "pii:"+string(t))
	}
}

// asIdentifier retypes a numeric column as text over its raw values and drops
// the parsed numbers.
func (c *column) asIdentifier() {
	c.profile.Type = models.ColumnText
	copy(c.norm, c.raw)
	c.nums, c.numOK = nil, nil
	c.invalid = 0
	c.profile.SampleValues = c.profile.SampleValues[:0]
	seen := map[string]struct{}{}
	for _, v := range c.raw {
		if v == "" || len(c.profile.SampleValues) == 5 {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			c.profile.SampleValues = append(c.profile.SampleValues, v)
		}
	}
}

func round3(x float64) float64 {
	return float64(int(x*1000+0.5)) / 1000
}
