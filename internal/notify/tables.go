package notify

import (
	"fmt"
	"time"

	"github.com/aulalink/realtime/pkg/session"
	"github.com/tidwall/gjson"
)

// eventEntry knows how to turn one inbound event's payload into a
// human-readable notification.
type eventEntry struct {
	category Category
	build    func(payload gjson.Result) (title, message string)
}

// Per-role event tables. Every event name the server is known to emit
// for a role has an entry here; names outside the table are ignored.
var roleTables = map[session.Role]map[string]eventEntry{
	session.RoleStudent: {
		"nueva_tarea": {CategoryTarea, func(p gjson.Result) (string, string) {
			return fmt.Sprintf("Nueva tarea: %s", p.Get("titulo_tarea").String()),
				fmt.Sprintf("Se asignó una nueva tarea en %s. Entrega: %s",
					p.Get("curso_nombre").String(), formatFecha(p.Get("fecha_entrega").String()))
		}},
		"nueva_calificacion": {CategoryCalificacion, func(p gjson.Result) (string, string) {
			return "Nueva calificación",
				fmt.Sprintf("Recibiste una calificación en %s: %s",
					p.Get("curso_nombre").String(), p.Get("nota").String())
		}},
		"nuevo_modulo": {CategoryModulo, func(p gjson.Result) (string, string) {
			return fmt.Sprintf("Nuevo módulo: %s", p.Get("nombre_modulo").String()),
				fmt.Sprintf("Se habilitó un nuevo módulo en %s", p.Get("curso_nombre").String())
		}},
		"pago_aprobado": {CategoryPago, func(p gjson.Result) (string, string) {
			return "Pago aprobado",
				fmt.Sprintf("Tu pago de %s fue aprobado", p.Get("monto").String())
		}},
		"pago_rechazado": {CategoryPago, func(p gjson.Result) (string, string) {
			return "Pago rechazado",
				fmt.Sprintf("Tu pago de %s fue rechazado. Revisa el comprobante", p.Get("monto").String())
		}},
		"matricula_aprobada": {CategoryMatricula, func(p gjson.Result) (string, string) {
			return "Matrícula aprobada",
				fmt.Sprintf("Tu matrícula en %s fue aprobada", p.Get("curso_nombre").String())
		}},
	},
	session.RoleTeacher: {
		"nueva_entrega": {CategoryTarea, func(p gjson.Result) (string, string) {
			return "Nueva entrega recibida",
				fmt.Sprintf("%s entregó %s en %s", p.Get("nombre_estudiante").String(),
					p.Get("titulo_tarea").String(), p.Get("curso_nombre").String())
		}},
		"estudiante_matriculado": {CategoryMatricula, func(p gjson.Result) (string, string) {
			return "Nuevo estudiante",
				fmt.Sprintf("%s se matriculó en %s", p.Get("nombre_solicitante").String(),
					p.Get("curso_nombre").String())
		}},
		"curso_asignado": {CategoryModulo, func(p gjson.Result) (string, string) {
			return "Curso asignado",
				fmt.Sprintf("Se te asignó el curso %s", p.Get("curso_nombre").String())
		}},
	},
	session.RoleAdmin: {
		"nueva_solicitud": {CategoryMatricula, func(p gjson.Result) (string, string) {
			return "Nueva solicitud de matrícula",
				fmt.Sprintf("%s solicitó matrícula en %s", p.Get("nombre_solicitante").String(),
					p.Get("curso_nombre").String())
		}},
		"nuevo_pago": {CategoryPago, func(p gjson.Result) (string, string) {
			return "Nuevo pago por revisar",
				fmt.Sprintf("%s registró un pago de %s", p.Get("nombre_estudiante").String(),
					p.Get("monto").String())
		}},
		"nueva_matricula": {CategoryMatricula, func(p gjson.Result) (string, string) {
			return "Nueva matrícula",
				fmt.Sprintf("%s se matriculó en %s", p.Get("nombre_estudiante").String(),
					p.Get("curso_nombre").String())
		}},
	},
}

// formatFecha renders a server timestamp for display. Unparseable
// values pass through untouched.
func formatFecha(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Format("02/01/2006 15:04")
}
