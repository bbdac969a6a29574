package menu

import (
	"context"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/BTreeMap/SupportPipe/internal/session"
)

const (
	msgInvalidOption    = "Opción no válida. Por favor, selecciona una opción del menú:\n\n"
	msgGoodbye          = "👋 Gracias por contactar a Lealia. ¡Hasta luego!"
	msgSurveyFarewell   = "Seguimos a tus órdenes. ¡Excelente día!"
	msgAssistantIntro   = "🤖 Claro, cuéntame tu duda y con gusto te ayudo. Si prefieres volver al menú escribe *menú*."
	msgTransferred      = "👨‍💼 Hemos transferido tu consulta a un ejecutivo de Lealia. Por favor, espera un momento mientras te atendemos personalmente. ¡Gracias por tu paciencia!"
	msgEscalationFailed = "⚠️ Lo sentimos, ha ocurrido un error al procesar tu solicitud en Lealia. Por favor, intenta de nuevo más tarde o contáctanos directamente al correo soporte@lealia.com.mx"

	msgPasswordReset = "🔐 *¿Necesitas cambiar tu contraseña?* Sigue estos pasos:\n\n" +
		"1️⃣ Ingresa al portal: https://tienda.lealia.com.mx/iniciar-sesion\n\n" +
		"2️⃣ Da clic en *\"¿Olvidaste tu contraseña?\"*\n\n" +
		"3️⃣ Ingresa tu número de teléfono. Te enviaremos un *código de recuperación* a tu WhatsApp 📲\n\n" +
		"4️⃣ Ingresa el código recibido y escribe tu *nueva contraseña* 🔑\n\n" +
		"5️⃣ ¡Listo! Ya puedes iniciar sesión en tu portal, buscar tus productos y realizar tus compras 🛒✨"

	msgSpecialOrder = "🛒✨ *¡Excelente!* Puedes realizar tu *pedido especial* directamente en nuestro portal especializado:\n\n" +
		"🔗 https://tienda.lealia.com.mx/pedidos-especiales\n\n" +
		"🛍️ *Tiendas disponibles para pedidos especiales:*\nLiverpool, Sam's Club, Walmart, Costco o tiendas de marcas reconocidas.\n\n" +
		"📌 *Importante:*\nIngresa *todos tus datos completos* para realizar tu compra correctamente.\n" +
		"Coloca el *código postal de entrega (Sucursal Nostos)* al buscar disponibilidad del producto.\n\n" +
		"⚠️ *Nota:*\nLos pedidos de supermercado *no se realizan* en esta sección.\n" +
		"Para eso, puedes adquirir una *Gift Card* de:\n• Walmart Cashi\n• Soriana\n• Chedraui\nDesde el apartado de *Gift Cards*.\n\n" +
		"💡 Si necesitas ayuda navegando el portal o tienes dudas sobre algún producto especial, ¡no dudes en contactarnos!"

	msgDeliveryAddress = "📍 Todos los productos se envían a tu sucursal. En caso de que la sucursal haya cambiado de domicilio debes mandar un correo a " +
		"*mescobar@centiva.mx con copia a acoronel@centiva.mx y amarrieta@centiva.mx* indicando tu RFC, SUCURSAL y dirección completa de la nueva sucursal, " +
		"de igual manera indicando brevemente el motivo por el cual solicitas que se envíe ahí."

	msgDamaged = "Buen día, con gusto te apoyamos. En este caso es necesario que envíes un correo electrónico a la dirección amarrieta@centiva.mx con copia a khuitron@centiva.mx " +
		"los siguientes datos: \"Asunto: Garantía\" Breve explicación del motivo de la Garantía. Nombre completo: Número celular: Sucursal: Número de pedido: " +
		"Explicación de la solicitud de garantía: Número de serie: IMEI (En caso de ser un celular): Evidencias 4 fotografías (Frente, Atrás y ambos laterales), y Video."

	msgFunctionality = "Buen día, con gusto te apoyamos. En este caso es necesario que envíes un correo electrónico a la dirección amarrieta@centiva.mx con copia a khuitron@centiva.mx " +
		"los siguientes datos: \"Asunto: Garantía\" Breve explicación del motivo de la Garantía. Nombre completo: Número celular: Número de pedido: " +
		"Explicación de la solicitud de garantía: Número de serie: IMEI (En caso de ser un celular): Evidencias 4 fotografías (Frente, Atrás y ambos laterales), y Video."

	msgCancellation = "Buen día, con gusto te apoyamos. En este caso es necesario que envíes un correo electrónico a la dirección amarrieta@centiva.mx con los siguientes datos: " +
		"\"Asunto: Cancelación\", RFC, Nombre completo, Orden de Compra, Sucursal y Breve explicación del motivo de la cancelación. Por favor."

	msgPointsRules = "En seguida te compartimos las reglas. En caso de que continúes con dudas sobre tu carga, debes enviar un correo a *mescobar@centiva.mx* " +
		"solicitando la aclaración de tus monedas. Por favor."

	msgMonthlyPoints = "Buen día, de momento nos encontramos en espera de que corporativo nos indique la dispersión mensual para la carga de monedas. " +
		"En cuanto sean cargadas a tu portal con gusto te notificamos por este medio. Por favor."
)

// inform sends text and moves to the closing menu.
func inform(text string) action {
	return func(ctx context.Context, m *Machine, s *session.Session) {
		m.host.Send(ctx, s, text)
		m.ShowClosingMenu(ctx, s)
	}
}

func subMenu(id ID) action {
	return func(ctx context.Context, m *Machine, s *session.Session) {
		m.showSubMenu(ctx, s, id)
	}
}

func backToMain(ctx context.Context, m *Machine, s *session.Session) {
	m.ShowMainMenu(ctx, s)
}

func startCollection(id ID) action {
	return func(ctx context.Context, m *Machine, s *session.Session) {
		m.beginCollection(ctx, s, id)
	}
}

func endSession(ctx context.Context, m *Machine, s *session.Session) {
	m.host.Send(ctx, s, msgGoodbye)
	m.host.EndSession(ctx, s, models.EndReasonUser)
}

// askAssistant leaves the menu tree so free text goes to the AI assistant.
func askAssistant(ctx context.Context, m *Machine, s *session.Session) {
	m.host.Send(ctx, s, msgAssistantIntro)
	s.ResetMenu("")
	s.CurrentFlow = session.FlowAIConversation
	s.CurrentStep = ""
	m.host.ArmInactivity(s)
}

func pointsRules(ctx context.Context, m *Machine, s *session.Session) {
	closing := m.menus[ClosingMenu]
	m.host.Send(ctx, s, msgPointsRules+"\n\n"+closing.header+"\n\n"+closing.optionList())
	m.enter(s, ClosingMenu)
}

func closingHuman(ctx context.Context, m *Machine, s *session.Session) {
	m.EscalateToHuman(ctx, s)
}

func closingSurvey(ctx context.Context, m *Machine, s *session.Session) {
	m.host.Send(ctx, s, msgSurveyFarewell)
	s.ResetMenu("")
	m.host.StartSurvey(ctx, s)
}

func catalog() map[ID]menu {
	return map[ID]menu{
		MainMenu: {
			header: "👋 ¡Bienvenido a Lealia! ¿En qué podemos ayudarte hoy?",
			footer: "Por favor, selecciona una opción del menú:",
			options: []option{
				{"Olvidé Usuario o Contraseña", inform(msgPasswordReset)},
				{"Problemas con mi pedido", subMenu(OrderProblems)},
				{"Realizar un pedido especial", inform(msgSpecialOrder)},
				{"Duda de mi carga de puntos", subMenu(CoinIssues)},
				{"Problemas con mi portal", subMenu(PortalProblems)},
				{"Dirección de entrega", inform(msgDeliveryAddress)},
				{"Consultar Saldo", startCollection(CheckBalanceRFC)},
				{"Terminar sesión", endSession},
				{"Otra duda (asistente virtual)", askAssistant},
			},
		},
		OrderProblems: {
			header: "¿Qué problema tienes con tu pedido?",
			options: []option{
				{"Llegó dañado", inform(msgDamaged)},
				{"Tiempo de entrega", startCollection(OrderDeliveryRFC)},
				{"Problema de funcionamiento", inform(msgFunctionality)},
				{"Cancelación o reembolso", inform(msgCancellation)},
				{"Volver al menú principal", backToMain},
			},
		},
		CoinIssues: {
			header: "¿Qué duda tienes sobre tu carga de puntos?",
			options: []option{
				{"Los puntos que tengo no coinciden", pointsRules},
				{"No tengo puntos correspondientes al mes", inform(msgMonthlyPoints)},
				{"Volver al menú principal", backToMain},
			},
		},
		PortalProblems: {
			header: "¿Qué problema tienes con el portal?",
			options: []option{
				{"No puedo accesar con mis credenciales", inform(msgPasswordReset)},
				{"No puedo realizar pedido", startCollection(PortalOrderRFC)},
				{"No tengo puntos cargados", startCollection(PortalPointsRFC)},
				{"Volver al menú principal", backToMain},
			},
		},
		ClosingMenu: {
			header: "✨ ¿Hay algo más en lo que te podamos ayudar?",
			options: []option{
				{"Sí, necesito más ayuda", closingHuman},
				{"No, gracias", closingSurvey},
			},
		},
	}
}
