package router

import "testing"

func TestPhraseClassifier_ControlPhrases(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		name string
		fn   func(string) bool
		text string
		want bool
	}{
		{"human start accented", c.HumanStart, "Inicio de la Atención Humana", true},
		{"human start unaccented", c.HumanStart, "inicio de la atencion humana, te saluda Ana", true},
		{"human start executive", c.HumanStart, "Hola, te atiende un ejecutivo de Lealia", true},
		{"human start negative", c.HumanStart, "quiero atención humana", false},
		{"human end", c.HumanEnd, "  FIN DE LA ATENCIÓN HUMANA  ", true},
		{"human end negative", c.HumanEnd, "fin", false},
		{"survey trigger", c.SurveyTrigger, "Quiero contestar encuesta", true},
		{"survey trigger satisfaction", c.SurveyTrigger, "encuesta de satisfaccion", true},
		{"survey trigger negative", c.SurveyTrigger, "encuesta", false},
		{"menu word", c.MenuRequest, "Menú", true},
		{"menu word punctuated", c.MenuRequest, "menu principal!", true},
		{"menu inside sentence", c.MenuRequest, "no entiendo el menu", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.text); got != tt.want {
				t.Errorf("got %v, want %v for %q", got, tt.want, tt.text)
			}
		})
	}
}

func TestPhraseClassifier_Escalation(t *testing.T) {
	c := DefaultClassifier()
	if !c.Escalation("quiero hablar con un humano", "") {
		t.Error("expected user request to escalate")
	}
	if !c.Escalation("no funciona", "Puedo ayudarte a crear un reporte para que un asesor te contacte.") {
		t.Error("expected reply suggesting a report to escalate")
	}
	if c.Escalation("¿cuántos puntos tengo?", "Puedes consultarlos en el portal.") {
		t.Error("expected plain exchange not to escalate")
	}
}

func TestPhraseClassifier_InactivityAnswer(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		text string
		want InactivityAnswer
	}{
		{"1", AnswerContinue},
		{"Sí", AnswerContinue},
		{"si, por favor", AnswerContinue},
		{"quiero continuar", AnswerContinue},
		{"2", AnswerEnd},
		{"No", AnswerEnd},
		{"terminar", AnswerEnd},
		{"sitio web", AnswerUnknown},
		{"nombre", AnswerUnknown},
		{"12", AnswerUnknown},
	}
	for _, tt := range tests {
		if got := c.InactivityAnswer(tt.text); got != tt.want {
			t.Errorf("InactivityAnswer(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
