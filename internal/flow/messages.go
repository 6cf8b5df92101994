package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// User-facing texts. The intake runs in Brazilian Portuguese.
const (
	PhonePrompt = "Para finalizar, informe seu número de WhatsApp com DDD para que nossos advogados entrem em contato.\nExemplo: 11999999999"

	AlreadyRegisteredMessage = "Suas informações já foram registradas. Nossa equipe entrará em contato em breve pelo número informado. Obrigado!"

	RetryLaterMessage = "Tivemos uma instabilidade ao registrar sua mensagem. Por favor, envie novamente em instantes."

	hintGeneric   = "Não consegui entender sua resposta."
	hintName      = "Por favor, informe seu nome completo (nome e sobrenome)."
	hintSituation = "Por favor, descreva sua situação com um pouco mais de detalhes."
	hintPhone     = "Por favor, informe um número de telefone válido com DDD, apenas números."
)

// correctivePrompt prefixes the repeated question with the rejection hint.
func correctivePrompt(verr *ValidationError, question string) string {
	return verr.Hint + "\n\n" + question
}

// WelcomeMessage is sent to the client's phone once the lead is stored.
func WelcomeMessage(lead *models.Lead) string {
	name := firstName(answerFor(lead, models.StepKey(1)))
	area := answerFor(lead, models.StepKey(2))
	var sb strings.Builder
	if name != "" {
		fmt.Fprintf(&sb, "Olá, %s! ", name)
	} else {
		sb.WriteString("Olá! ")
	}
	sb.WriteString("Recebemos suas informações")
	if area != "" {
		fmt.Fprintf(&sb, " sobre %s", area)
	}
	sb.WriteString(". Um advogado do nosso escritório entrará em contato por este número em breve.")
	return sb.String()
}

// NotificationMessage is sent to the internal recipient and the lawyers.
func NotificationMessage(lead *models.Lead) string {
	var sb strings.Builder
	sb.WriteString("Novo lead recebido\n\n")
	fmt.Fprintf(&sb, "Nome: %s\n", orDash(answerFor(lead, models.StepKey(1))))
	fmt.Fprintf(&sb, "Área: %s\n", orDash(answerFor(lead, models.StepKey(2))))
	fmt.Fprintf(&sb, "Telefone: %s\n", orDash(lead.Phone()))
	if situation := answerFor(lead, models.StepKey(3)); situation != "" {
		fmt.Fprintf(&sb, "Situação: %s\n", truncate(situation, 200))
	}
	fmt.Fprintf(&sb, "\nLead: %s", lead.ID)
	return sb.String()
}

func answerFor(lead *models.Lead, stepID string) string {
	for _, a := range lead.Answers {
		if a.StepID == stepID {
			return a.Answer
		}
	}
	return ""
}

func firstName(full string) string {
	if fields := strings.Fields(full); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
