package router

import (
	"strings"
	"unicode"
)

// InactivityAnswer is the interpretation of a reply to the inactivity prompt.
type InactivityAnswer int

const (
	AnswerUnknown InactivityAnswer = iota
	AnswerContinue
	AnswerEnd
)

// Classifier recognizes the intents the router branches on. Implementations
// must be safe for concurrent use.
type Classifier interface {
	// HumanStart reports an operator message announcing a human took over.
	HumanStart(text string) bool
	// HumanEnd reports an operator message closing human attention.
	HumanEnd(text string) bool
	// SurveyTrigger reports a request to answer the satisfaction survey.
	SurveyTrigger(text string) bool
	// MenuRequest reports a request to go back to the main menu.
	MenuRequest(text string) bool
	// Escalation reports whether a user message or an AI reply asks for a human.
	Escalation(userText, reply string) bool
	// InactivityAnswer interprets a reply to the inactivity prompt.
	InactivityAnswer(text string) InactivityAnswer
}

// PhraseClassifier matches fixed, case-insensitive phrase lists.
type PhraseClassifier struct {
	HumanStartPhrases      []string
	HumanEndPhrases        []string
	SurveyPhrases          []string
	MenuWords              []string
	UserEscalationPhrases  []string
	ReplyEscalationPhrases []string
}

var _ Classifier = (*PhraseClassifier)(nil)

// DefaultClassifier returns the phrase lists used with Lealia operators.
func DefaultClassifier() *PhraseClassifier {
	return &PhraseClassifier{
		HumanStartPhrases: []string{
			"inicio de la atención humana",
			"inicio de la atencion humana",
			"te atiende un ejecutivo de lealia",
		},
		HumanEndPhrases: []string{
			"fin de la atención humana",
			"fin de la atencion humana",
		},
		SurveyPhrases: []string{
			"iniciar encuesta",
			"responder encuesta",
			"contestar encuesta",
			"encuesta de satisfacción",
			"encuesta de satisfaccion",
		},
		MenuWords: []string{
			"menu", "menú", "menu principal", "menú principal", "volver al menu", "volver al menú",
		},
		UserEscalationPhrases: []string{
			"hablar con un humano",
			"agente",
			"persona real",
		},
		ReplyEscalationPhrases: []string{
			"crear un reporte",
		},
	}
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func (c *PhraseClassifier) HumanStart(text string) bool {
	return containsAny(normalize(text), c.HumanStartPhrases)
}

func (c *PhraseClassifier) HumanEnd(text string) bool {
	return containsAny(normalize(text), c.HumanEndPhrases)
}

func (c *PhraseClassifier) SurveyTrigger(text string) bool {
	return containsAny(normalize(text), c.SurveyPhrases)
}

func (c *PhraseClassifier) MenuRequest(text string) bool {
	t := strings.Trim(normalize(text), ".!¡*")
	for _, w := range c.MenuWords {
		if t == w {
			return true
		}
	}
	return false
}

func (c *PhraseClassifier) Escalation(userText, reply string) bool {
	return containsAny(normalize(userText), c.UserEscalationPhrases) ||
		containsAny(normalize(reply), c.ReplyEscalationPhrases)
}

// InactivityAnswer accepts "1", "sí", "si" or "continuar" to continue and
// "2", "no" or "terminar" to end. "sí", "si" and "no" must be whole words.
func (c *PhraseClassifier) InactivityAnswer(text string) InactivityAnswer {
	t := normalize(text)
	words := strings.FieldsFunc(t, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	has := func(w string) bool {
		for _, x := range words {
			if x == w {
				return true
			}
		}
		return false
	}
	switch {
	case t == "1" || has("sí") || has("si") || strings.Contains(t, "continuar"):
		return AnswerContinue
	case t == "2" || has("no") || strings.Contains(t, "terminar"):
		return AnswerEnd
	default:
		return AnswerUnknown
	}
}
