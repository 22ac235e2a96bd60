package events

// Name identifies an event on the realtime channel.
type Name string

const (
	NameDocCreate  Name = "doc:create"
	NameDocUpdate  Name = "doc:update"
	NameDocDelete  Name = "doc:delete"
	NameDocArchive Name = "doc:archive"
	NameDocRestore Name = "doc:restore"

	NameCellUpdate     Name = "db:cell:update"
	NameRowCreate      Name = "db:row:create"
	NameRowUpdate      Name = "db:row:update"
	NameRowDelete      Name = "db:row:delete"
	NamePropertyCreate Name = "db:property:create"
	NamePropertyUpdate Name = "db:property:update"
	NamePropertyDelete Name = "db:property:delete"

	NameCommentCreate  Name = "comment:create"
	NameCommentUpdate  Name = "comment:update"
	NameCommentDelete  Name = "comment:delete"
	NameCommentResolve Name = "comment:resolve"

	NameNotificationNew  Name = "notification:new"
	NameNotificationRead Name = "notification:read"

	NamePresenceJoin   Name = "presence:join"
	NamePresenceLeave  Name = "presence:leave"
	NamePresenceCursor Name = "presence:cursor"

	NameFavoriteAdd    Name = "favorite:add"
	NameFavoriteRemove Name = "favorite:remove"
)

// Category groups events by the store they target.
type Category string

const (
	CategoryDocument     Category = "document"
	CategoryDatabase     Category = "database"
	CategoryComment      Category = "comment"
	CategoryNotification Category = "notification"
	CategoryPresence     Category = "presence"
	CategoryFavorite     Category = "favorite"
)

type entry struct {
	category Category
	// mutation events carry the originating userId and are subject to
	// self-echo suppression
	mutation bool
	new      func() Event
}

var registry = map[Name]entry{
	NameDocCreate:  {CategoryDocument, true, func() Event { return new(DocCreate) }},
	NameDocUpdate:  {CategoryDocument, true, func() Event { return new(DocUpdate) }},
	NameDocDelete:  {CategoryDocument, true, func() Event { return new(DocDelete) }},
	NameDocArchive: {CategoryDocument, true, func() Event { return new(DocArchive) }},
	NameDocRestore: {CategoryDocument, true, func() Event { return new(DocRestore) }},

	NameCellUpdate:     {CategoryDatabase, true, func() Event { return new(CellUpdate) }},
	NameRowCreate:      {CategoryDatabase, true, func() Event { return new(RowCreate) }},
	NameRowUpdate:      {CategoryDatabase, true, func() Event { return new(RowUpdate) }},
	NameRowDelete:      {CategoryDatabase, true, func() Event { return new(RowDelete) }},
	NamePropertyCreate: {CategoryDatabase, true, func() Event { return new(PropertyCreate) }},
	NamePropertyUpdate: {CategoryDatabase, true, func() Event { return new(PropertyUpdate) }},
	NamePropertyDelete: {CategoryDatabase, true, func() Event { return new(PropertyDelete) }},

	NameCommentCreate:  {CategoryComment, true, func() Event { return new(CommentCreate) }},
	NameCommentUpdate:  {CategoryComment, true, func() Event { return new(CommentUpdate) }},
	NameCommentDelete:  {CategoryComment, true, func() Event { return new(CommentDelete) }},
	NameCommentResolve: {CategoryComment, true, func() Event { return new(CommentResolve) }},

	NameNotificationNew:  {CategoryNotification, false, func() Event { return new(NotificationNew) }},
	NameNotificationRead: {CategoryNotification, false, func() Event { return new(NotificationRead) }},

	NamePresenceJoin:   {CategoryPresence, true, func() Event { return new(PresenceJoin) }},
	NamePresenceLeave:  {CategoryPresence, true, func() Event { return new(PresenceLeave) }},
	NamePresenceCursor: {CategoryPresence, true, func() Event { return new(PresenceCursor) }},

	NameFavoriteAdd:    {CategoryFavorite, true, func() Event { return new(FavoriteAdd) }},
	NameFavoriteRemove: {CategoryFavorite, true, func() Event { return new(FavoriteRemove) }},
}

// Info describes one registered event.
type Info struct {
	Name     Name
	Category Category
	Mutation bool
}

// Catalog returns every registered event, in no particular order.
func Catalog() []Info {
	out := make([]Info, 0, len(registry))
	for name, e := range registry {
		out = append(out, Info{Name: name, Category: e.category, Mutation: e.mutation})
	}
	return out
}

// Lookup returns the registry information for name.
func Lookup(name Name) (Info, bool) {
	e, ok := registry[name]
	if !ok {
		return Info{}, false
	}
	return Info{Name: name, Category: e.category, Mutation: e.mutation}, true
}

func (n Name) String() string {
	return string(n)
}
