package emotion

import "github.com/kalambet/dreamsynth/internal/chat"

const systemPrompt = "Tu es un assistant d’analyse d’émotions. " +
	"Tu dois renvoyer STRICTEMENT un objet JSON, sans texte explicatif, " +
	"contenant six scores numériques entre 0 et 1 (inclus) pour : " +
	"heureux, anxieux, triste, en_colere, fatigue, apeure. " +
	"Attention l'utilisateur peut faire preuve d'ironie. " +
	"Aucun autre champ, commentaire ou formatage n’est autorisé."

const userPrefix = "Analyse ce texte : "

// BuildMessages returns the chat turns sent to score text.
func BuildMessages(text string) []chat.Message {
	return []chat.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrefix + text},
	}
}
