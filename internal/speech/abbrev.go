package speech

import (
	"regexp"
	"strings"
)

// Abbreviation tables per language, keyed by the written token and mapping to
// the spoken form. Matching is token-level and case-insensitive. The tables
// can be extended with more abbreviations, slang and languages.
var abbreviations = map[string]map[string]string{
	"en": {
		"e.g.":    "for example",
		"i.e.":    "that is",
		"etc.":    "et cetera",
		"vs":      "versus",
		"vs.":     "versus",
		"approx.": "approximately",
		"dr":      "doctor",
		"dr.":     "doctor",
		"prof.":   "professor",
		"mr.":     "mister",
		"mrs.":    "missus",
		"st.":     "saint",
		"no.":     "number",
		"dept.":   "department",
		"min.":    "minutes",
		"hr.":     "hours",
		"kg":      "kilograms",
		"km":      "kilometers",
		"cm":      "centimeters",
		"mm":      "millimeters",
		"ml":      "milliliters",
		"ft":      "feet",
		"lb":      "pounds",
		"mph":     "miles per hour",
		"km/h":    "kilometers per hour",
		"°C":      "degrees Celsius",
		"°F":      "degrees Fahrenheit",
		"AI":      "A I",
		"API":     "A P I",
		"GPS":     "G P S",
		"URL":     "U R L",
		"WWW":     "double-u double-u double-u",
	},
	"pl": {
		"np.":   "na przykład",
		"m.in.": "między innymi",
		"itd.":  "i tak dalej",
		"itp.":  "i tym podobne",
		"tzn.":  "to znaczy",
		"tj.":   "to jest",
		"wg":    "według",
		"tzw.":  "tak zwany",
		"ds.":   "do spraw",
		"cdn.":  "ciąg dalszy nastąpi",
		"ww.":   "wyżej wymieniony",
		"jw.":   "jak wyżej",
		"br.":   "bieżącego roku",
		"etc.":  "et cetera",
		"pt.":   "pod tytułem",
		"zob.":  "zobacz",
		"por.":  "porównaj",
		"dr":    "doktor",
		"prof.": "profesor",
		"mgr":   "magister",
		"inż.":  "inżynier",
		"zł":    "złotych",
		"gr":    "groszy",
		"kg":    "kilogram",
		"km":    "kilometr",
		"cm":    "centymetr",
		"mm":    "milimetr",
		"ml":    "mililitr",
		"godz.": "godzina",
		"min.":  "minuta",
		"proc.": "procent",
		"°C":    "stopni Celsjusza",
		"km/h":  "kilometrów na godzinę",
		"USA":   "u es a",
		"UE":    "unia europejska",
		"NATO":  "nato",
		"VAT":   "wat",
		"PKB":   "pe ka be",
		"GPS":   "gie pe es",
		"AI":    "ejaj",
		"WWW":   "wu wu wu",
		"SMS":   "es em es",
		"URL":   "u er el",
	},
}

// Characters a synthesizer is expected to handle; everything else becomes a
// space. The Polish set additionally keeps diacritics.
var nonStandardChars = map[string]*regexp.Regexp{
	"en": regexp.MustCompile(`[^a-zA-Z0-9 .,!?;:'"–\-]`),
	"pl": regexp.MustCompile(`[^a-zA-Z0-9ąćęłńóśźżĄĆĘŁŃÓŚŹŻ .,!?;:'"–\-]`),
}

// NormalizeForSpeech prepares a sanitized text chunk for the synthesizer:
// abbreviations are expanded to their spoken form and characters the voice
// cannot pronounce are dropped. Unknown languages fall back to English rules.
func NormalizeForSpeech(text, lang string) string {
	table, ok := abbreviations[lang]
	if !ok {
		lang = "en"
		table = abbreviations["en"]
	}

	fields := strings.Fields(text)
	for i, token := range fields {
		if expanded, ok := expandToken(token, table); ok {
			fields[i] = expanded
		}
	}
	out := strings.Join(fields, " ")

	out = nonStandardChars[lang].ReplaceAllString(out, " ")
	return strings.Join(strings.Fields(out), " ")
}

// expandToken matches one whitespace-delimited token against the table,
// tolerating trailing clause punctuation and differing case.
func expandToken(token string, table map[string]string) (string, bool) {
	trailer := ""
	core := token
	if n := len(core); n > 0 {
		switch core[n-1] {
		case ',', ';', ':', '!', '?':
			trailer = core[n-1:]
			core = core[:n-1]
		}
	}
	if core == "" {
		return "", false
	}

	for _, variant := range []string{core, strings.ToLower(core), strings.ToUpper(core)} {
		if spoken, ok := table[variant]; ok {
			return spoken + trailer, true
		}
	}
	return "", false
}
