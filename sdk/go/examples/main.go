package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"TradingTools/sdk/go/tradingtools"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/actions/create_limit_order", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tradingtools.ActionResult{
			Action: tradingtools.ActionCreateLimitOrder,
			Result: "Limit order created with ID order-demo, status: pending",
		})
	})
	mux.HandleFunc("/api/v1/actions/check_limit_order", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tradingtools.ActionResult{
			Action: tradingtools.ActionCheckLimitOrder,
			Result: "Order order-demo status: filled, txHash: 0x5f1e",
		})
	})
	mux.HandleFunc("/api/v1/orders/order-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tradingtools.Order{
			ID:          "order-demo",
			TokenSymbol: "ARB",
			Amount:      "1000000",
			LimitPrice:  "0.75",
			Status:      "filled",
			TxHash:      "0x5f1e",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := tradingtools.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, text, err := client.CreateLimitOrder(ctx, tradingtools.LimitOrderRequest{
		TokenSymbol: "ARB",
		Amount:      "1000000",
		LimitPrice:  "0.75",
		Destination: "0x00000000000000000000000000000000000000ab",
	})
	if err != nil {
		panic(err)
	}
	fmt.Println(text)

	status, err := client.CheckLimitOrder(ctx, id)
	if err != nil {
		panic(err)
	}
	fmt.Println(status)

	order, err := client.GetOrder(ctx, id)
	if err != nil {
		panic(err)
	}
	fmt.Printf("order %s filled by %s\n", order.ID, order.TxHash)
}
