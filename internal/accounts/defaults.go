package accounts

import "github.com/cleared-dev/concilia/internal/model"

// DefaultChart returns the starter chart of accounts written by init.
// TODO: add a trade chart (inventory, cost of goods) for kind "comercio".
func DefaultChart(kind string) []model.Account {
	return servicesChart()
}

func servicesChart() []model.Account {
	return []model.Account{
		{ID: 1010, Name: "Conta Corrente", Type: model.AccountTypeAsset, Description: "Conta movimento"},
		{ID: 1020, Name: "Aplicações Financeiras", Type: model.AccountTypeAsset, Description: "Aplicações e investimentos"},
		{ID: 2010, Name: "Fornecedores", Type: model.AccountTypeLiability},
		{ID: 2020, Name: "Impostos a Recolher", Type: model.AccountTypeLiability},
		{ID: 3010, Name: "Capital Social", Type: model.AccountTypeEquity},
		{ID: 4010, Name: "Receita de Serviços", Type: model.AccountTypeRevenue},
		{ID: 4020, Name: "Recebimentos PIX", Type: model.AccountTypeRevenue, ParentID: 4010},
		{ID: 4030, Name: "Rendimentos de Aplicações", Type: model.AccountTypeRevenue},
		{ID: 5010, Name: "Tarifas Bancárias", Type: model.AccountTypeExpense, Description: "Tarifas e pacotes de serviço"},
		{ID: 5020, Name: "Energia Elétrica", Type: model.AccountTypeExpense},
		{ID: 5030, Name: "Alimentação", Type: model.AccountTypeExpense},
		{ID: 5040, Name: "Serviços de Terceiros", Type: model.AccountTypeExpense},
		{ID: 5050, Name: "Impostos e Taxas", Type: model.AccountTypeExpense},
	}
}
