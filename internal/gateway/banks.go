package gateway

import "strings"

// bankCodes maps bank names to the provider's routing codes. Lookup is
// case-insensitive on the romanized names.
var bankCodes = map[string]string{
	"KB국민은행":         "004",
	"kb kookmin":    "004",
	"신한은행":          "088",
	"shinhan":       "088",
	"우리은행":          "020",
	"woori":         "020",
	"하나은행":          "081",
	"hana":          "081",
	"NH농협은행":        "011",
	"nh nonghyup":   "011",
	"IBK기업은행":       "003",
	"ibk":           "003",
	"SC제일은행":        "023",
	"sc first":      "023",
	"카카오뱅크":         "090",
	"kakao bank":    "090",
	"케이뱅크":          "089",
	"k bank":        "089",
	"토스뱅크":          "092",
	"toss bank":     "092",
	"우체국":           "071",
	"korea post":    "071",
	"새마을금고":         "045",
	"mg community":  "045",
	"부산은행":          "032",
	"busan":         "032",
	"대구은행":          "031",
	"daegu":         "031",
	"광주은행":          "034",
	"gwangju":       "034",
	"수협은행":          "007",
	"sh suhyup":     "007",
	"씨티은행":          "027",
	"citibank":      "027",
}

// BankCode resolves a user-supplied bank name to a routing code. Unknown
// names must be rejected before any gateway call.
func BankCode(bankName string) (string, bool) {
	if code, ok := bankCodes[bankName]; ok {
		return code, true
	}

	code, ok := bankCodes[strings.ToLower(strings.TrimSpace(bankName))]

	return code, ok
}
