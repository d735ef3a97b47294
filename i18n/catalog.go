package i18n

// catalog holds one Message per notification type and language. Keys match
// ledger.EventType values.
var catalog = map[Language]map[string]Message{
	Portuguese: {
		"EXPENSE_PENDING_APPROVAL": {
			Title: "Despesa pendente de aprovação",
			Body:  `Nova despesa de {{.amount}} {{.currency}} em "{{.group}}": {{.description}}`,
		},
		"EXPENSE_APPROVED": {
			Title: "Despesa aprovada",
			Body:  `Sua despesa "{{.description}}" foi aprovada e adicionada ao grupo.`,
		},
		"EXPENSE_REJECTED": {
			Title: "Despesa rejeitada",
			Body:  `Sua despesa "{{.description}}" foi rejeitada pelo dono do grupo.{{if .reason}} Motivo: {{.reason}}{{end}}`,
		},
		"PAYMENT_PENDING_CONFIRMATION": {
			Title: "Pagamento pendente de confirmação",
			Body:  `Recebeu {{.amount}} {{.currency}} pela despesa "{{.description}}". Confirme o pagamento.`,
		},
		"PAYMENT_CONFIRMED": {
			Title: "Pagamento confirmado",
			Body:  `Seu pagamento de {{.amount}} {{.currency}} da despesa "{{.description}}" foi confirmado.`,
		},
		"PAYMENT_REJECTED": {
			Title: "Pagamento rejeitado",
			Body:  `Seu pagamento de {{.amount}} {{.currency}} da despesa "{{.description}}" foi rejeitado.`,
		},
		"FRIEND_REQUEST": {
			Title: "Novo convite de amizade",
			Body:  `Você recebeu um convite de amizade.`,
		},
		"MEMBER_ADDED": {
			Title: "Adicionado a um grupo",
			Body:  `Você foi adicionado ao grupo "{{.group}}".`,
		},
		"GROUP_CREATED": {
			Title: "Grupo criado",
			Body:  `Você criou o grupo "{{.group}}".`,
		},
	},
	English: {
		"EXPENSE_PENDING_APPROVAL": {
			Title: "Expense awaiting approval",
			Body:  `New expense of {{.amount}} {{.currency}} in "{{.group}}": {{.description}}`,
		},
		"EXPENSE_APPROVED": {
			Title: "Expense approved",
			Body:  `Your expense "{{.description}}" was approved and added to the group.`,
		},
		"EXPENSE_REJECTED": {
			Title: "Expense rejected",
			Body:  `Your expense "{{.description}}" was rejected by the group owner.{{if .reason}} Reason: {{.reason}}{{end}}`,
		},
		"PAYMENT_PENDING_CONFIRMATION": {
			Title: "Payment awaiting confirmation",
			Body:  `You received {{.amount}} {{.currency}} for "{{.description}}". Please confirm the payment.`,
		},
		"PAYMENT_CONFIRMED": {
			Title: "Payment confirmed",
			Body:  `Your payment of {{.amount}} {{.currency}} for "{{.description}}" was confirmed.`,
		},
		"PAYMENT_REJECTED": {
			Title: "Payment rejected",
			Body:  `Your payment of {{.amount}} {{.currency}} for "{{.description}}" was rejected.`,
		},
		"FRIEND_REQUEST": {
			Title: "New friend request",
			Body:  `You have a new friend request.`,
		},
		"MEMBER_ADDED": {
			Title: "Added to a group",
			Body:  `You were added to the group "{{.group}}".`,
		},
		"GROUP_CREATED": {
			Title: "Group created",
			Body:  `You created the group "{{.group}}".`,
		},
	},
}
