package router

import (
	"context"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

// timerCallTimeout bounds the I/O a timer fire performs.
const timerCallTimeout = 30 * time.Second

const (
	msgAbandoned  = "Creo que has abandonado el chat ☹️, esta conversación se cerrará por inactividad.\n\nSi deseas continuar con el seguimiento vuelve a contactar por favor."
	msgStillThere = "¿Sigues ahí? Estoy aquí para ayudarte si tienes más preguntas."
	msgNoActivity = "Parece que no hay actividad. Si necesitas más ayuda, no dudes en contactarnos nuevamente. ¡Que tengas un buen día!"
)

// callbacksFor picks the inactivity behavior of the flow s is in when armed.
// In menus the warning announces the closing and the end is silent. In
// conversational flows the warning asks whether the user is still there and
// the end says goodbye.
func (r *Router) callbacksFor(s *session.Session) session.Callbacks {
	flow := s.CurrentFlow
	switch flow {
	case session.FlowAIConversation, session.FlowReport, session.FlowSurvey:
		cb := session.Callbacks{
			OnWarning: func(s *session.Session) {
				r.metrics.RecordTimerFire("warning", string(flow))
				r.timerSend(s, msgStillThere)
			},
			OnEnd: func(s *session.Session) {
				r.metrics.RecordTimerFire("end", string(flow))
				r.timerSend(s, msgNoActivity)
				r.timerEnd(s)
			},
		}
		if flow == session.FlowAIConversation {
			cb.EndAfter = r.cfg.AIEndAfter
		}
		return cb
	default:
		return session.Callbacks{
			OnWarning: func(s *session.Session) {
				r.metrics.RecordTimerFire("warning", string(flow))
				r.timerSend(s, msgAbandoned)
			},
			OnEnd: func(s *session.Session) {
				r.metrics.RecordTimerFire("end", string(flow))
				r.timerEnd(s)
			},
		}
	}
}

func (r *Router) timerSend(s *session.Session, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), timerCallTimeout)
	defer cancel()
	r.Send(ctx, s, text)
}

func (r *Router) timerEnd(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), timerCallTimeout)
	defer cancel()
	r.EndSession(ctx, s, models.EndReasonInactivity)
}
