package flow

// Replies sent by the router and the built-in handlers.
const (
	MsgApology             = "Lo siento, ocurrió un error al procesar tu mensaje."
	MsgServiceUnavailable  = "Lo siento, el servicio no está disponible en este momento."
	MsgAINotConfigured     = "Lo siento, no estoy configurado correctamente para responder en este momento."
	MsgAIError             = "Lo siento, hubo un error al procesar tu mensaje. Por favor, intenta nuevamente."
	MsgRateLimited         = "Estás enviando mensajes muy rápido. Espera un momento e intenta de nuevo."
	MsgTranscriptionFailed = "No pude entender tu audio. ¿Puedes escribir tu mensaje?"
)
