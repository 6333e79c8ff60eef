package flow

// User-facing conversation text. The bot speaks Portuguese; keep these in
// sync with the flow builder UI defaults.
const (
	// Placeholder labels the builder assigns to new start/end nodes. Nodes
	// still carrying them produce no message.
	placeholderStartLabel = "Início do Fluxo"
	placeholderEndLabel   = "Fim do fluxo"

	msgSessionExpired = "Sua sessão expirou por inatividade. Para iniciar novamente, envie uma mensagem de ativação."

	msgOutOfContext = `Parece que sua resposta está fora do contexto esperado. Deseja encerrar esta conversa? (Responda com "sim" ou "não")`

	msgConversationEnded = "Conversa encerrada. Obrigado por utilizar nosso serviço! Para iniciar novamente, envie uma mensagem de ativação."

	msgResume = "Ok, vamos continuar de onde paramos."

	msgNotUnderstood = "Olá! Não reconheci sua mensagem. Parece que não há fluxos ativos configurados no sistema."

	msgTechnicalProblem = "Desculpe, estamos enfrentando problemas técnicos. Por favor, tente novamente mais tarde."

	msgNodeNotFound = "Erro: Nó não encontrado no fluxo. A conversa será encerrada."

	msgStartNodeMissing = "Erro: Nó de início não encontrado no fluxo."

	msgIncompleteFlow = "Fluxo incompleto. Não há nós conectados ao nó inicial."

	msgEmptyMessageBody = "Mensagem sem conteúdo"

	msgEndOfConversation = "Fim da conversa. Obrigado!"

	msgEmptyList = "Erro: Lista de opções vazia."

	msgUnsupportedNodeType = "Tipo de nó não suportado: %s"

	msgProductNotConfigured = "Produto não configurado corretamente."

	msgProductLookupFailed = "Não foi possível obter informações do produto solicitado."

	msgAddToCart = "Para adicionar este produto ao carrinho, responda com 'adicionar'."

	msgProductPriceFormat = "*Preço:* R$ %.2f\n\n"
)

// Interactive list presentation defaults.
const (
	listTitle         = "Selecione uma opção"
	listDefaultPrompt = "Por favor, escolha uma das opções abaixo:"
	listButtonText    = "Ver opções"
	listFooterText    = "Imperial Mídia WhatsApp Flow"
	listSectionTitle  = "Opções disponíveis"

	conditionalDefaultPrompt = "Por favor, responda para prosseguir:"
)

// clarificationExpected are the replies offered by the out-of-context
// dialog; affirmativeReplies are the subset that ends the conversation.
var (
	clarificationExpected = []string{"sim", "não", "nao", "yes", "no"}
	affirmativeReplies    = map[string]bool{"sim": true, "yes": true, "s": true, "y": true}
)

// cartExpectedReplies is the vocabulary accepted after a cart prompt.
var cartExpectedReplies = []string{"adicionar", "comprar", "quero"}
