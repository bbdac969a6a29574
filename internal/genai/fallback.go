package genai

import "strings"

const defaultFallback = "Lo siento, no puedo proporcionar una respuesta detallada en este momento. ¿Te gustaría que creara un reporte para que un agente de soporte te contacte?"

var fallbackReplies = []struct {
	keyword string
	reply   string
}{
	{"hola", "¡Hola! Bienvenido a Lealia. ¿En qué puedo ayudarte hoy?"},
	{"puntos", "En Lealia puedes acumular puntos. ¿Tienes alguna pregunta específica sobre tus puntos?"},
	{"canjear", "Puedes canjear tus puntos por diversos productos y tarjetas de regalo en nuestra plataforma. ¿Necesitas ayuda para realizar un canje?"},
	{"problema", "Lamento escuchar que tienes un problema. ¿Te gustaría que creara un reporte para que un agente de soporte te contacte?"},
	{"gracias", "De nada. Estoy aquí para ayudarte. ¿Hay algo más en lo que pueda asistirte?"},
	{"adios", "Gracias por contactar a Lealia. Si necesitas algo más, no dudes en volver a escribir. ¡Que tengas un excelente día!"},
}

// KeywordReply answers without the AI when the quota is exhausted. Keywords
// are checked in a fixed order and the first match wins.
func KeywordReply(prompt string) string {
	p := strings.ToLower(prompt)
	for _, f := range fallbackReplies {
		if strings.Contains(p, f.keyword) {
			return f.reply
		}
	}
	return defaultFallback
}
