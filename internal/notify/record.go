package notify

import (
	"encoding/json"
	"time"

	"github.com/aulalink/realtime/pkg/session"
)

type Category string

const (
	CategoryModulo       Category = "modulo"
	CategoryTarea        Category = "tarea"
	CategoryPago         Category = "pago"
	CategoryCalificacion Category = "calificacion"
	CategoryMatricula    Category = "matricula"
	CategoryGeneral      Category = "general"
)

// Record is one entry of the in-memory notification feed. Payload
// keeps the original event data for consumers needing extra fields.
type Record struct {
	ID        string          `json:"id"`
	Category  Category        `json:"category"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Read      bool            `json:"read"`
	ReadAt    *time.Time      `json:"readAt,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Link      string          `json:"link,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServerNotification is the wire shape of one hydrated record.
type ServerNotification struct {
	ID            int             `json:"id_notificacion"`
	Tipo          string          `json:"tipo"`
	Titulo        string          `json:"titulo"`
	Mensaje       string          `json:"mensaje"`
	Leida         bool            `json:"leida"`
	FechaCreacion string          `json:"fecha_creacion"`
	FechaLectura  string          `json:"fecha_lectura,omitempty"`
	Datos         json.RawMessage `json:"datos,omitempty"`
}

const defaultLink = "/notificaciones"

// deep links by (category, role). Anything not listed lands on the
// notification center.
var links = map[Category]map[session.Role]string{
	CategoryModulo: {
		session.RoleStudent: "/estudiante/modulos",
		session.RoleTeacher: "/profesor/modulos",
		session.RoleAdmin:   "/admin/modulos",
	},
	CategoryTarea: {
		session.RoleStudent: "/estudiante/tareas",
		session.RoleTeacher: "/profesor/tareas",
	},
	CategoryPago: {
		session.RoleStudent: "/estudiante/pagos",
		session.RoleAdmin:   "/admin/pagos",
	},
	CategoryCalificacion: {
		session.RoleStudent: "/estudiante/calificaciones",
		session.RoleTeacher: "/profesor/calificaciones",
	},
	CategoryMatricula: {
		session.RoleStudent: "/estudiante/matricula",
		session.RoleTeacher: "/profesor/estudiantes",
		session.RoleAdmin:   "/admin/matriculas",
	},
}

func linkFor(category Category, role session.Role) string {
	if byRole, ok := links[category]; ok {
		if link, ok := byRole[role]; ok {
			return link
		}
	}
	return defaultLink
}

func normalizeCategory(tipo string) Category {
	switch Category(tipo) {
	case CategoryModulo, CategoryTarea, CategoryPago, CategoryCalificacion, CategoryMatricula:
		return Category(tipo)
	default:
		return CategoryGeneral
	}
}
