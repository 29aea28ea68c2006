package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	fcolor "github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/punchamoorthee/bankclient/internal/domain"
)

var (
	red    = fcolor.New(fcolor.FgRed)
	green  = fcolor.New(fcolor.FgGreen)
	yellow = fcolor.New(fcolor.FgYellow)
	bold   = fcolor.New(fcolor.Bold)
)

func color(c *fcolor.Color, s string) string {
	return c.Sprint(s)
}

type printer struct {
	w    io.Writer
	json bool
}

func (p *printer) raw(v any) {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (p *printer) ok(format string, args ...any) {
	fmt.Fprintln(p.w, color(green, "✓ ")+fmt.Sprintf(format, args...))
}

func (p *printer) warn(format string, args ...any) {
	fmt.Fprintln(p.w, color(yellow, "! ")+fmt.Sprintf(format, args...))
}

func (p *printer) fail(format string, args ...any) {
	fmt.Fprintln(p.w, color(red, "✗ ")+fmt.Sprintf(format, args...))
}

func (p *printer) transfer(r *domain.TransferResult) {
	if p.json {
		p.raw(r)
		return
	}
	if r.Succeeded() {
		p.ok("transfer %s: %.2f %s -> %s", r.TransactionID, r.Amount, r.FromAccount, r.ToAccount)
		var bal float64
		if r.Extra("newFromAccountBalance", &bal) {
			fmt.Fprintf(p.w, "  new balance of %s: %.2f\n", r.FromAccount, bal)
		}
		return
	}
	p.warn("transfer %s: %s", r.Status, r.Message)
	for _, k := range []string{"fromAccountError", "toAccountError"} {
		var msg string
		if r.Extra(k, &msg) {
			fmt.Fprintf(p.w, "  %s\n", msg)
		}
	}
}

func (p *printer) batch(reqs []domain.TransferRequest, results []*domain.TransferResult) {
	if p.json {
		p.raw(results)
		return
	}
	t := p.table()
	t.AppendHeader(table.Row{"#", "From", "To", "Amount", "Status", "Transaction"})
	var ok int
	for i, r := range results {
		status, tx := color(red, "ERROR"), ""
		if r != nil {
			status, tx = r.Status, r.TransactionID
			if r.Succeeded() {
				ok++
				status = color(green, r.Status)
			}
		}
		t.AppendRow(table.Row{i + 1, reqs[i].FromAccount, reqs[i].ToAccount, fmt.Sprintf("%.2f", reqs[i].Amount), status, tx})
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d/%d ok", ok, len(results)), ""})
	t.Render()
}

// object prints a flat JSON object as key/value lines.
func (p *printer) object(title string, m map[string]any) {
	if p.json {
		p.raw(m)
		return
	}
	fmt.Fprintln(p.w, color(bold, title))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(p.w, "  %s: %v\n", k, m[k])
	}
}

func (p *printer) accounts(list []map[string]any) {
	if p.json {
		p.raw(list)
		return
	}
	t := p.table()
	t.AppendHeader(table.Row{"Account", "Balance"})
	for _, a := range list {
		t.AppendRow(table.Row{a["id"], a["balance"]})
	}
	t.AppendFooter(table.Row{"Total", len(list)})
	t.Render()
}

func (p *printer) history(h map[string]any) {
	if p.json {
		p.raw(h)
		return
	}
	txs, _ := h["transactions"].([]any)
	t := p.table()
	t.AppendHeader(table.Row{"Transaction", "From", "To", "Amount", "Time"})
	for _, raw := range txs {
		tx, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		t.AppendRow(table.Row{tx["transactionId"], tx["fromAccount"], tx["toAccount"], tx["amount"], tx["timestamp"]})
	}
	t.Render()
}

func (p *printer) journal(entries []domain.JournalEntry) {
	if p.json {
		p.raw(entries)
		return
	}
	t := p.table()
	t.AppendHeader(table.Row{"ID", "Time", "From", "To", "Amount", "Status", "Transaction", "Error"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.FromAccount, e.ToAccount,
			fmt.Sprintf("%.2f", e.Amount), e.Status, e.TransactionID, e.Error})
	}
	t.Render()
}

func (p *printer) table() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.w)
	t.SetStyle(table.StyleLight)
	return t
}
